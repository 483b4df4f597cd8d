package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes an application/json response with the given status and
// payload. A nil payload writes headers only. HTML escaping is off so
// store names and member nicknames round-trip unmangled.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
