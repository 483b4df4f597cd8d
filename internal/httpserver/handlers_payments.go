package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	apierrors "github.com/AgentPay/server/internal/errors"
	"github.com/AgentPay/server/internal/logger"
	"github.com/AgentPay/server/internal/payments"
	"github.com/AgentPay/server/pkg/responders"
)

// listPayments returns one page of an agent's payments with totals
// over the full filtered set.
//
// POST /agentpay/v1/payments/list with a JSON body, or GET with the
// same fields as query parameters.
func (h *handlers) listPayments(w http.ResponseWriter, r *http.Request) {
	var req payments.ListRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(r.Body, &req); err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
			return
		}
	} else {
		q := r.URL.Query()
		req = payments.ListRequest{
			AgentCode:  q.Get("agentcode"),
			Status:     q.Get("status"),
			SearchTerm: q.Get("searchTerm"),
			Page:       queryInt(q.Get("page")),
			Limit:      queryInt(q.Get("limit")),
		}
	}

	resp, err := h.payments.ListPayments(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// paymentStats returns all-time totals plus zero-filled hourly, daily,
// and monthly series for one agent.
//
// POST /agentpay/v1/payments/stats with a JSON body, or GET with the
// same fields as query parameters.
func (h *handlers) paymentStats(w http.ResponseWriter, r *http.Request) {
	var req payments.StatsRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(r.Body, &req); err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
			return
		}
	} else {
		q := r.URL.Query()
		req = payments.StatsRequest{
			AgentCode:     q.Get("agentcode"),
			HourlyHours:   queryInt(q.Get("hourlyHours")),
			DailyDays:     queryInt(q.Get("dailyDays")),
			MonthlyMonths: queryInt(q.Get("monthlyMonths")),
		}
	}

	resp, err := h.payments.Stats(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// pendingSummary returns the agent's confirmed payments still awaiting
// manual order processing.
//
// POST /agentpay/v1/payments/pending-summary with a JSON body, or GET
// with the same fields as query parameters.
func (h *handlers) pendingSummary(w http.ResponseWriter, r *http.Request) {
	var req payments.PendingSummaryRequest
	if r.Method == http.MethodPost {
		if err := decodeJSON(r.Body, &req); err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
			return
		}
	} else {
		q := r.URL.Query()
		req = payments.PendingSummaryRequest{
			AgentCode: q.Get("agentcode"),
			Limit:     queryInt(q.Get("limit")),
		}
	}

	resp, err := h.payments.PendingSummary(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// updateOrderProcessing moves one payment's manual workflow flag.
//
// POST /agentpay/v1/payments/order-processing
func (h *handlers) updateOrderProcessing(w http.ResponseWriter, r *http.Request) {
	var req payments.UpdateOrderProcessingRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
		return
	}

	resp, err := h.payments.UpdateOrderProcessing(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// preparePayment creates a new payment order awaiting transfer.
//
// POST /agentpay/v1/payments/prepare
func (h *handlers) preparePayment(w http.ResponseWriter, r *http.Request) {
	var req payments.PrepareRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
		return
	}

	resp, err := h.payments.Prepare(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusCreated, resp)
}

// confirmPayment records the observed on-chain transfer for a prepared
// payment order.
//
// POST /agentpay/v1/payments/confirm
func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req payments.ConfirmRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid JSON body")
		return
	}

	resp, err := h.payments.Confirm(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// writeServiceError maps a service error onto the standardized error
// response, logging unexpected failures.
func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apierrors.Error
	if errors.As(err, &appErr) {
		if appErr.Code.HTTPStatus() >= 500 {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("request.failed")
		}
		apierrors.WriteSimpleError(w, appErr.Code, appErr.Message)
		return
	}

	log := logger.FromContext(r.Context())
	log.Error().Err(err).Msg("request.failed")
	apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "internal error")
}

// queryInt parses an integer query parameter; malformed or absent
// values read as zero so the service applies its defaults.
func queryInt(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
