package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/AgentPay/server/internal/config"
	"github.com/AgentPay/server/internal/payments"
	"github.com/AgentPay/server/internal/rates"
	"github.com/AgentPay/server/internal/storage"
)

func newTestRouter(t *testing.T) (chi.Router, *storage.MemoryStore) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	cfg.Storage.Backend = "memory"
	cfg.Rates.FallbackKrwPerUsdt = 1300
	cfg.Rates.RefreshInterval = config.Duration{Duration: time.Minute}
	cfg.Rates.RequestTimeout = config.Duration{Duration: time.Second}

	store := storage.NewMemoryStore()
	svc := payments.NewService(store, nil)
	ratesClient := rates.NewClient(cfg.Rates, nil, zerolog.Nop())

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, svc, ratesClient, nil, zerolog.Nop())
	return router, store
}

func seedConfirmed(t *testing.T, store *storage.MemoryStore, id, agent string, usdt, krw float64, at time.Time) {
	t.Helper()
	p := storage.Payment{
		ID:          id,
		AgentCode:   agent,
		StoreCode:   "store1",
		Status:      storage.StatusConfirmed,
		UsdtAmount:  usdt,
		KrwAmount:   krw,
		CreatedAt:   at.Add(-time.Minute),
		ConfirmedAt: &at,
	}
	if err := store.InsertPayment(context.Background(), p); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/agentpay-health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestListPaymentsEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	now := time.Now().UTC()
	seedConfirmed(t, store, "p1", "agent1", 10, 14000, now)
	seedConfirmed(t, store, "p2", "agent1", 20, 28000, now.Add(-time.Hour))
	seedConfirmed(t, store, "p3", "other", 99, 990000, now)

	rec := doJSON(t, router, http.MethodGet, "/agentpay/v1/payments/list?agentcode=AGENT1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp payments.ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", resp.TotalCount)
	}
	if resp.TotalUsdtAmount != 30 || resp.TotalKrwAmount != 42000 {
		t.Errorf("totals = %v/%v", resp.TotalUsdtAmount, resp.TotalKrwAmount)
	}
	if len(resp.Payments) != 2 || resp.Payments[0].ID != "p1" {
		t.Errorf("page order = %+v", resp.Payments)
	}
}

func TestListPaymentsPostBody(t *testing.T) {
	router, store := newTestRouter(t)
	now := time.Now().UTC()
	seedConfirmed(t, store, "p1", "agent1", 10, 14000, now)
	seedConfirmed(t, store, "p2", "agent1", 20, 28000, now.Add(-time.Hour))

	rec := doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/list",
		payments.ListRequest{AgentCode: "agent1", Limit: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp payments.ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCount != 2 || len(resp.Payments) != 1 || resp.Payments[0].ID != "p1" {
		t.Errorf("response = %+v", resp)
	}

	rec = doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/list", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", rec.Code)
	}
}

func TestListPaymentsEmptyAgent(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/agentpay/v1/payments/list", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp payments.ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalCount != 0 || len(resp.Payments) != 0 {
		t.Errorf("expected empty result, got %+v", resp)
	}
}

func TestPaymentStatsEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	seedConfirmed(t, store, "p1", "agent1", 10, 14000, time.Now().UTC())

	rec := doJSON(t, router, http.MethodGet, "/agentpay/v1/payments/stats?agentcode=agent1&hourlyHours=12", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp payments.StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Hourly.Hours != 12 || len(resp.Hourly.Points) != 12 {
		t.Errorf("hourly window = %d/%d", resp.Hourly.Hours, len(resp.Hourly.Points))
	}
	if resp.Totals.Count != 1 || resp.Totals.UsdtAmount != 10 {
		t.Errorf("totals = %+v", resp.Totals)
	}
}

func TestPaymentStatsPostBody(t *testing.T) {
	router, store := newTestRouter(t)
	seedConfirmed(t, store, "p1", "agent1", 10, 14000, time.Now().UTC())

	rec := doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/stats",
		payments.StatsRequest{AgentCode: "agent1", DailyDays: 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp payments.StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Daily.Days != 30 || len(resp.Daily.Points) != 30 {
		t.Errorf("daily window = %d/%d", resp.Daily.Days, len(resp.Daily.Points))
	}
	if resp.Totals.Count != 1 {
		t.Errorf("totals = %+v", resp.Totals)
	}
}

func TestPendingSummaryEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	seedConfirmed(t, store, "p1", "agent1", 10, 14000, time.Now().UTC())

	rec := doJSON(t, router, http.MethodGet, "/agentpay/v1/payments/pending-summary?agentcode=agent1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp payments.PendingSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PendingCount != 1 || len(resp.RecentPayments) != 1 {
		t.Errorf("summary = %+v", resp)
	}
	if resp.RecentPayments[0].TradeID != "p1" {
		t.Errorf("TradeID = %q", resp.RecentPayments[0].TradeID)
	}
}

func TestPendingSummaryPostBody(t *testing.T) {
	router, store := newTestRouter(t)
	now := time.Now().UTC()
	seedConfirmed(t, store, "p1", "agent1", 10, 14000, now)
	seedConfirmed(t, store, "p2", "agent1", 20, 28000, now.Add(-time.Hour))

	rec := doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/pending-summary",
		payments.PendingSummaryRequest{AgentCode: "agent1", Limit: 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp payments.PendingSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PendingCount != 2 {
		t.Errorf("PendingCount = %d, want 2", resp.PendingCount)
	}
	if len(resp.RecentPayments) != 1 || resp.RecentPayments[0].PaymentID != "p1" {
		t.Errorf("recent = %+v", resp.RecentPayments)
	}
}

func TestUpdateOrderProcessingEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	seedConfirmed(t, store, "p1", "agent1", 10, 14000, time.Now().UTC())

	rec := doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/order-processing",
		payments.UpdateOrderProcessingRequest{PaymentID: "p1", OrderProcessing: "COMPLETED"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp payments.UpdateOrderProcessingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "p1" || resp.OrderProcessing != storage.OrderProcessingCompleted {
		t.Errorf("response = %+v", resp)
	}
	if resp.OrderProcessingUpdatedAt == nil {
		t.Error("OrderProcessingUpdatedAt not set")
	}
}

func TestUpdateOrderProcessingErrors(t *testing.T) {
	router, store := newTestRouter(t)
	seedConfirmed(t, store, "p1", "agent1", 10, 14000, time.Now().UTC())

	cases := []struct {
		name string
		body payments.UpdateOrderProcessingRequest
		want int
	}{
		{"invalid flag", payments.UpdateOrderProcessingRequest{PaymentID: "p1", OrderProcessing: "DONE"}, http.StatusBadRequest},
		{"bad id", payments.UpdateOrderProcessingRequest{PaymentID: "p 1", OrderProcessing: "COMPLETED"}, http.StatusBadRequest},
		{"missing payment", payments.UpdateOrderProcessingRequest{PaymentID: "ghost", OrderProcessing: "COMPLETED"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/order-processing", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestPrepareConfirmEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/prepare", payments.PrepareRequest{
		AgentCode:       "agent1",
		StoreCode:       "store1",
		ToWalletAddress: "TDest",
		UsdtAmount:      15,
		KrwAmount:       21000,
		ExchangeRate:    1400,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("prepare status = %d: %s", rec.Code, rec.Body.String())
	}
	var prep payments.PrepareResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &prep); err != nil {
		t.Fatalf("decode prepare: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/confirm", payments.ConfirmRequest{
		PaymentID:         prep.Payment.ID,
		FromWalletAddress: "TSender",
		TransactionHash:   "0xabc",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d: %s", rec.Code, rec.Body.String())
	}

	// Double confirmation conflicts.
	rec = doJSON(t, router, http.MethodPost, "/agentpay/v1/payments/confirm", payments.ConfirmRequest{
		PaymentID:       prep.Payment.ID,
		TransactionHash: "0xabc",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second confirm status = %d, want 409", rec.Code)
	}
}

func TestStoreEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/agentpay/v1/stores/save", payments.SaveStoreRequest{
		StoreCode: "store1",
		AgentCode: "agent1",
		StoreName: "Seoul Coffee",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/agentpay/v1/stores/list?agentcode=agent1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp payments.ListStoresResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Stores) != 1 || resp.Stores[0].StoreName != "Seoul Coffee" {
		t.Errorf("stores = %+v", resp.Stores)
	}
}

func TestRateEndpointFallsBack(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/agentpay/v1/rates/usdt-krw", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var rate rates.Rate
	if err := json.Unmarshal(rec.Body.Bytes(), &rate); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rate.KrwPerUsdt != 1300 || rate.Source != rates.SourceFallback {
		t.Errorf("rate = %+v", rate)
	}
}

func TestMetricsAuth(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	cfg.Server.AdminMetricsAPIKey = "secret"
	cfg.Rates.FallbackKrwPerUsdt = 1300
	cfg.Rates.RefreshInterval = config.Duration{Duration: time.Minute}
	cfg.Rates.RequestTimeout = config.Duration{Duration: time.Second}

	store := storage.NewMemoryStore()
	svc := payments.NewService(store, nil)
	ratesClient := rates.NewClient(cfg.Rates, nil, zerolog.Nop())

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, svc, ratesClient, nil, zerolog.Nop())

	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated metrics status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", "secret"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated metrics status = %d, want 200", rec.Code)
	}
}
