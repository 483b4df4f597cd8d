package payments

import (
	"time"

	"github.com/AgentPay/server/internal/storage"
)

// ListRequest scopes a paginated payment listing for one agent.
type ListRequest struct {
	AgentCode  string `json:"agentcode"`
	Status     string `json:"status"`
	SearchTerm string `json:"searchTerm"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
}

// ListResponse is one page of payments annotated with totals over the
// full filtered set, not just the returned page.
type ListResponse struct {
	Payments        []storage.Payment `json:"payments"`
	Page            int               `json:"page"`
	Limit           int               `json:"limit"`
	TotalCount      int64             `json:"totalCount"`
	TotalPages      int               `json:"totalPages"`
	TotalUsdtAmount float64           `json:"totalUsdtAmount"`
	TotalKrwAmount  float64           `json:"totalKrwAmount"`
}

// StatsRequest configures the statistics time series windows. Zero
// values take the service defaults.
type StatsRequest struct {
	AgentCode     string `json:"agentcode"`
	HourlyHours   int    `json:"hourlyHours"`
	DailyDays     int    `json:"dailyDays"`
	MonthlyMonths int    `json:"monthlyMonths"`
}

// SeriesPoint is one bucket of a statistics time series. Buckets with
// no payments are present with zero values.
type SeriesPoint struct {
	Bucket     string  `json:"bucket"`
	Label      string  `json:"label"`
	Count      int64   `json:"count"`
	UsdtAmount float64 `json:"usdtAmount"`
	KrwAmount  float64 `json:"krwAmount"`
}

// HourlySeries is the hourly time series over the requested window.
type HourlySeries struct {
	Hours  int           `json:"hours"`
	Points []SeriesPoint `json:"points"`
}

// DailySeries is the daily time series over the requested window.
type DailySeries struct {
	Days   int           `json:"days"`
	Points []SeriesPoint `json:"points"`
}

// MonthlySeries is the monthly time series over the requested window.
type MonthlySeries struct {
	Months int           `json:"months"`
	Points []SeriesPoint `json:"points"`
}

// StatsResponse carries the all-time totals and the three zero-filled
// time series for one agent. All bucket boundaries are UTC.
type StatsResponse struct {
	AgentCode   string         `json:"agentcode"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Totals      storage.Totals `json:"totals"`
	Hourly      HourlySeries   `json:"hourly"`
	Daily       DailySeries    `json:"daily"`
	Monthly     MonthlySeries  `json:"monthly"`
}

// PendingSummaryRequest scopes the pending order processing summary.
// Limit caps the recent payments list, not the pending count.
type PendingSummaryRequest struct {
	AgentCode string `json:"agentcode"`
	Limit     int    `json:"limit"`
}

// PendingPaymentView is a compact projection of a pending payment for
// the operator queue. TradeID falls back to the payment ID when the
// transaction hash is not recorded.
type PendingPaymentView struct {
	TradeID         string                  `json:"tradeId"`
	PaymentID       string                  `json:"paymentId"`
	StoreCode       string                  `json:"storecode"`
	StoreName       string                  `json:"storeName"`
	MemberNickname  string                  `json:"memberNickname"`
	UsdtAmount      float64                 `json:"usdtAmount"`
	KrwAmount       float64                 `json:"krwAmount"`
	OrderProcessing storage.OrderProcessing `json:"orderProcessing"`
	ConfirmedAt     *time.Time              `json:"confirmedAt,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`
}

// PendingSummaryResponse summarizes the agent's confirmed payments
// still awaiting manual order processing.
type PendingSummaryResponse struct {
	AgentCode       string               `json:"agentcode"`
	PendingCount    int64                `json:"pendingCount"`
	OldestPendingAt *time.Time           `json:"oldestPendingAt,omitempty"`
	RecentPayments  []PendingPaymentView `json:"recentPayments"`
}

// UpdateOrderProcessingRequest moves one payment's manual workflow flag.
type UpdateOrderProcessingRequest struct {
	PaymentID       string `json:"paymentId"`
	OrderProcessing string `json:"orderProcessing"`
}

// UpdateOrderProcessingResponse returns the workflow fields read back
// from the store after the update, so the caller sees the persisted
// value rather than an echo of the input.
type UpdateOrderProcessingResponse struct {
	ID                       string                  `json:"id"`
	OrderProcessing          storage.OrderProcessing `json:"orderProcessing"`
	OrderProcessingUpdatedAt *time.Time              `json:"orderProcessingUpdatedAt"`
}

// PrepareRequest creates a new payment order awaiting an on-chain
// transfer.
type PrepareRequest struct {
	AgentCode       string  `json:"agentcode"`
	StoreCode       string  `json:"storecode"`
	ToWalletAddress string  `json:"toWalletAddress"`
	UsdtAmount      float64 `json:"usdtAmount"`
	KrwAmount       float64 `json:"krwAmount"`
	ExchangeRate    float64 `json:"exchangeRate"`
	MemberNickname  string  `json:"memberNickname"`
}

// PrepareResponse returns the created payment order.
type PrepareResponse struct {
	Payment storage.Payment `json:"payment"`
}

// ConfirmRequest records the observed on-chain transfer for a prepared
// payment order.
type ConfirmRequest struct {
	PaymentID         string `json:"paymentId"`
	FromWalletAddress string `json:"fromWalletAddress"`
	TransactionHash   string `json:"transactionHash"`
}

// ConfirmResponse returns the payment after confirmation.
type ConfirmResponse struct {
	Payment storage.Payment `json:"payment"`
}

// SaveStoreRequest upserts merchant store metadata.
type SaveStoreRequest struct {
	StoreCode string `json:"storecode"`
	AgentCode string `json:"agentcode"`
	StoreName string `json:"storeName"`
	StoreLogo string `json:"storeLogo"`
}

// ListStoresResponse returns the stores registered under one agent.
type ListStoresResponse struct {
	AgentCode string              `json:"agentcode"`
	Stores    []storage.StoreInfo `json:"stores"`
}
