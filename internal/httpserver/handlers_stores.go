package httpserver

import (
	"net/http"

	apierrors "github.com/AgentPay/server/internal/errors"
	"github.com/AgentPay/server/internal/payments"
	"github.com/AgentPay/server/pkg/responders"
)

// saveStore upserts merchant store metadata keyed by store code.
//
// POST /agentpay/v1/stores/save
func (h *handlers) saveStore(w http.ResponseWriter, r *http.Request) {
	var req payments.SaveStoreRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
		return
	}

	if err := h.payments.SaveStore(r.Context(), req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listStores returns the stores registered under one agent.
//
// POST /agentpay/v1/stores/list with a JSON body, or GET with
// ?agentcode=...
func (h *handlers) listStores(w http.ResponseWriter, r *http.Request) {
	agentCode := r.URL.Query().Get("agentcode")
	if r.Method == http.MethodPost {
		var req struct {
			AgentCode string `json:"agentcode"`
		}
		if err := decodeJSON(r.Body, &req); err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
			return
		}
		agentCode = req.AgentCode
	}

	resp, err := h.payments.ListStores(r.Context(), agentCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}
