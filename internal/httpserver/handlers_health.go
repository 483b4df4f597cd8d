package httpserver

import (
	"net/http"
	"time"

	"github.com/AgentPay/server/pkg/responders"
)

// health returns service health status.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "agentpay-server",
		"uptime_seconds": int64(time.Since(serverStartTime).Seconds()),
		"backend":        h.cfg.Storage.Backend,
	})
}

// usdtKrwRate returns the current USDT/KRW exchange rate. Source
// failures degrade to the last known or configured fallback rate, so
// this endpoint always answers 200.
//
// GET /agentpay/v1/rates/usdt-krw
func (h *handlers) usdtKrwRate(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, h.rates.KrwPerUsdt(r.Context()))
}
