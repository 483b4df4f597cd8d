package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"math"
	"regexp"
	"strings"
	"time"

	apierrors "github.com/AgentPay/server/internal/errors"
	"github.com/AgentPay/server/internal/logger"
	"github.com/AgentPay/server/internal/metrics"
	"github.com/AgentPay/server/internal/storage"
)

// Clamp bounds for the read operations. Requests outside a range are
// pulled to the nearest bound; zero takes the default.
const (
	defaultPageLimit = 20
	maxPageLimit     = 100

	defaultHourlyHours = 24
	minHourlyHours     = 6
	maxHourlyHours     = 72

	defaultDailyDays = 14
	minDailyDays     = 7
	maxDailyDays     = 62

	defaultMonthlyMonths = 12
	minMonthlyMonths     = 6
	maxMonthlyMonths     = 24

	defaultPendingLimit = 5
	maxPendingLimit     = 20
)

// paymentIDPattern matches externally supplied payment identifiers.
var paymentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Service implements the agent payment aggregation operations on top
// of a storage backend.
type Service struct {
	store   storage.Store
	metrics *metrics.Metrics

	// now is swappable for deterministic window tests.
	now func() time.Time
}

// NewService creates a payment service. metrics may be nil.
func NewService(store storage.Store, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		metrics: m,
		now:     time.Now,
	}
}

// ListPayments returns one page of an agent's payments, newest first,
// with totals computed over the full filtered set.
func (s *Service) ListPayments(ctx context.Context, req ListRequest) (*ListResponse, error) {
	started := s.now()

	limit := clamp(req.Limit, 1, maxPageLimit, defaultPageLimit)
	page := req.Page
	if page < 1 {
		page = 1
	}

	resp := &ListResponse{
		Payments: []storage.Payment{},
		Page:     page,
		Limit:    limit,
	}

	agentCode := strings.TrimSpace(req.AgentCode)
	if agentCode == "" {
		// No agent means no payments; skip the storage round-trip.
		return resp, nil
	}

	chunk, err := s.store.ListPayments(ctx, storage.ListFilter{
		AgentCode:  agentCode,
		Status:     storage.ParseStatus(req.Status),
		SearchTerm: strings.TrimSpace(req.SearchTerm),
		Limit:      limit,
		Skip:       (page - 1) * limit,
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "list payments", err)
	}

	resp.Payments = chunk.Payments
	resp.TotalCount = chunk.TotalCount
	resp.TotalPages = int(math.Ceil(float64(chunk.TotalCount) / float64(limit)))
	resp.TotalUsdtAmount = chunk.TotalUsdtAmount
	resp.TotalKrwAmount = chunk.TotalKrwAmount

	s.observeQuery(ctx, "list_payments", started)
	return resp, nil
}

// Stats returns the agent's all-time confirmed totals plus zero-filled
// hourly, daily, and monthly series. All buckets are UTC-aligned.
func (s *Service) Stats(ctx context.Context, req StatsRequest) (*StatsResponse, error) {
	started := s.now()
	now := started.UTC()

	hours := clamp(req.HourlyHours, minHourlyHours, maxHourlyHours, defaultHourlyHours)
	days := clamp(req.DailyDays, minDailyDays, maxDailyDays, defaultDailyDays)
	months := clamp(req.MonthlyMonths, minMonthlyMonths, maxMonthlyMonths, defaultMonthlyMonths)

	resp := &StatsResponse{
		AgentCode:   strings.TrimSpace(req.AgentCode),
		GeneratedAt: now,
		Hourly:      HourlySeries{Hours: hours, Points: bucketSeed(storage.BucketHourly, hours, now)},
		Daily:       DailySeries{Days: days, Points: bucketSeed(storage.BucketDaily, days, now)},
		Monthly:     MonthlySeries{Months: months, Points: bucketSeed(storage.BucketMonthly, months, now)},
	}

	if resp.AgentCode == "" {
		// Zero-filled series for a missing agent, no storage round-trip.
		return resp, nil
	}

	totals, err := s.store.ConfirmedTotals(ctx, resp.AgentCode)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "confirmed totals", err)
	}
	resp.Totals = totals

	series := []struct {
		unit storage.BucketUnit
		n    int
		dest *[]SeriesPoint
	}{
		{storage.BucketHourly, hours, &resp.Hourly.Points},
		{storage.BucketDaily, days, &resp.Daily.Points},
		{storage.BucketMonthly, months, &resp.Monthly.Points},
	}
	for _, sr := range series {
		grouped, err := s.store.BucketTotals(ctx, resp.AgentCode, sr.unit, windowStart(sr.unit, sr.n, now))
		if err != nil {
			return nil, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "bucket totals", err)
		}
		*sr.dest = hydrate(*sr.dest, grouped)
	}

	s.observeQuery(ctx, "payment_stats", started)
	return resp, nil
}

// PendingSummary returns the agent's confirmed payments still awaiting
// manual order processing: queue depth, oldest entry, and a short list
// of the most recent ones.
func (s *Service) PendingSummary(ctx context.Context, req PendingSummaryRequest) (*PendingSummaryResponse, error) {
	started := s.now()

	limit := clamp(req.Limit, 1, maxPendingLimit, defaultPendingLimit)

	resp := &PendingSummaryResponse{
		AgentCode:      strings.TrimSpace(req.AgentCode),
		RecentPayments: []PendingPaymentView{},
	}
	if resp.AgentCode == "" {
		return resp, nil
	}

	chunk, err := s.store.PendingSummary(ctx, resp.AgentCode, limit)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "pending summary", err)
	}

	resp.PendingCount = chunk.PendingCount
	resp.OldestPendingAt = chunk.OldestPendingAt
	for _, p := range chunk.RecentPayments {
		resp.RecentPayments = append(resp.RecentPayments, pendingView(p))
	}

	s.observeQuery(ctx, "pending_summary", started)
	return resp, nil
}

// UpdateOrderProcessing moves one payment's manual workflow flag and
// returns the updated payment.
func (s *Service) UpdateOrderProcessing(ctx context.Context, req UpdateOrderProcessingRequest) (*UpdateOrderProcessingResponse, error) {
	if !paymentIDPattern.MatchString(req.PaymentID) {
		return nil, apierrors.New(apierrors.ErrCodeInvalidPaymentID, "paymentId must be 1-64 characters of [A-Za-z0-9_-]")
	}

	op, err := storage.ParseOrderProcessing(req.OrderProcessing)
	if err != nil {
		return nil, apierrors.Newf(apierrors.ErrCodeInvalidOrderProcessing,
			"orderProcessing must be %s or %s", storage.OrderProcessingInProgress, storage.OrderProcessingCompleted)
	}

	updated, err := s.store.SetOrderProcessing(ctx, req.PaymentID, op, s.now().UTC())
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, apierrors.Newf(apierrors.ErrCodePaymentNotFound, "payment %s not found", req.PaymentID)
		}
		return nil, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "set order processing", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveOrderProcessingUpdate(string(op))
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("payment_id", updated.ID).
		Str("order_processing", string(op)).
		Msg("payment.order_processing_updated")

	return &UpdateOrderProcessingResponse{
		ID:                       updated.ID,
		OrderProcessing:          updated.OrderProcessing,
		OrderProcessingUpdatedAt: updated.OrderProcessingUpdatedAt,
	}, nil
}

// Prepare creates a new payment order awaiting an on-chain transfer.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (*PrepareResponse, error) {
	agentCode := strings.TrimSpace(req.AgentCode)
	storeCode := strings.TrimSpace(req.StoreCode)
	switch {
	case agentCode == "":
		return nil, apierrors.New(apierrors.ErrCodeMissingField, "agentcode is required")
	case storeCode == "":
		return nil, apierrors.New(apierrors.ErrCodeMissingField, "storecode is required")
	case strings.TrimSpace(req.ToWalletAddress) == "":
		return nil, apierrors.New(apierrors.ErrCodeInvalidWallet, "toWalletAddress is required")
	case req.UsdtAmount <= 0:
		return nil, apierrors.New(apierrors.ErrCodeInvalidAmount, "usdtAmount must be positive")
	case req.KrwAmount < 0:
		return nil, apierrors.New(apierrors.ErrCodeInvalidAmount, "krwAmount must not be negative")
	}

	p := storage.Payment{
		ID:              newPaymentID(),
		AgentCode:       agentCode,
		StoreCode:       storeCode,
		Status:          storage.StatusPrepared,
		OrderProcessing: storage.OrderProcessingInProgress,
		ToWalletAddress: strings.TrimSpace(req.ToWalletAddress),
		UsdtAmount:      req.UsdtAmount,
		KrwAmount:       req.KrwAmount,
		ExchangeRate:    req.ExchangeRate,
		MemberNickname:  strings.TrimSpace(req.MemberNickname),
		CreatedAt:       s.now().UTC(),
	}

	if err := s.store.InsertPayment(ctx, p); err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "insert payment", err)
	}

	if s.metrics != nil {
		s.metrics.ObservePaymentPrepared(agentCode)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("payment_id", p.ID).
		Str("agentcode", agentCode).
		Str("storecode", storeCode).
		Float64("usdt_amount", p.UsdtAmount).
		Msg("payment.prepared")

	return &PrepareResponse{Payment: p}, nil
}

// Confirm records the observed on-chain transfer for a prepared
// payment order. Confirming an already confirmed payment is a
// conflict, not a repeatable success.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	if !paymentIDPattern.MatchString(req.PaymentID) {
		return nil, apierrors.New(apierrors.ErrCodeInvalidPaymentID, "paymentId must be 1-64 characters of [A-Za-z0-9_-]")
	}
	if strings.TrimSpace(req.TransactionHash) == "" {
		return nil, apierrors.New(apierrors.ErrCodeMissingField, "transactionHash is required")
	}

	confirmed, err := s.store.ConfirmPayment(ctx, req.PaymentID,
		strings.TrimSpace(req.FromWalletAddress), strings.TrimSpace(req.TransactionHash), s.now().UTC())
	if err != nil {
		switch {
		case stderrors.Is(err, storage.ErrNotFound):
			return nil, apierrors.Newf(apierrors.ErrCodePaymentNotFound, "payment %s not found", req.PaymentID)
		case stderrors.Is(err, storage.ErrAlreadyConfirmed):
			return nil, apierrors.Newf(apierrors.ErrCodePaymentAlreadyConfirmed, "payment %s is already confirmed", req.PaymentID)
		default:
			return nil, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "confirm payment", err)
		}
	}

	if s.metrics != nil {
		s.metrics.ObservePaymentConfirmed(confirmed.AgentCode, confirmed.UsdtAmount, confirmed.KrwAmount)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("payment_id", confirmed.ID).
		Str("tx_hash", logger.TruncateAddress(confirmed.TransactionHash)).
		Str("from_wallet", logger.TruncateAddress(confirmed.FromWalletAddress)).
		Msg("payment.confirmed")

	return &ConfirmResponse{Payment: confirmed}, nil
}

// SaveStore upserts merchant store metadata keyed by store code.
func (s *Service) SaveStore(ctx context.Context, req SaveStoreRequest) error {
	if strings.TrimSpace(req.StoreCode) == "" {
		return apierrors.New(apierrors.ErrCodeMissingField, "storecode is required")
	}
	if strings.TrimSpace(req.AgentCode) == "" {
		return apierrors.New(apierrors.ErrCodeMissingField, "agentcode is required")
	}

	err := s.store.SaveStore(ctx, storage.StoreInfo{
		StoreCode: strings.TrimSpace(req.StoreCode),
		AgentCode: strings.TrimSpace(req.AgentCode),
		StoreName: strings.TrimSpace(req.StoreName),
		StoreLogo: strings.TrimSpace(req.StoreLogo),
	})
	if err != nil {
		return apierrors.Wrap(apierrors.ErrCodeDatabaseError, "save store", err)
	}
	return nil
}

// ListStores returns the stores registered under one agent.
func (s *Service) ListStores(ctx context.Context, agentCode string) (*ListStoresResponse, error) {
	resp := &ListStoresResponse{
		AgentCode: strings.TrimSpace(agentCode),
		Stores:    []storage.StoreInfo{},
	}
	if resp.AgentCode == "" {
		return resp, nil
	}

	stores, err := s.store.ListStoresByAgent(ctx, resp.AgentCode)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrCodeDatabaseError, "list stores", err)
	}
	if stores != nil {
		resp.Stores = stores
	}
	return resp, nil
}

// pendingView projects a payment onto the operator queue shape.
func pendingView(p storage.Payment) PendingPaymentView {
	tradeID := p.TransactionHash
	if tradeID == "" {
		tradeID = p.ID
	}
	return PendingPaymentView{
		TradeID:         tradeID,
		PaymentID:       p.ID,
		StoreCode:       p.StoreCode,
		StoreName:       p.Store.StoreName,
		MemberNickname:  p.MemberNickname,
		UsdtAmount:      p.UsdtAmount,
		KrwAmount:       p.KrwAmount,
		OrderProcessing: storage.NormalizeOrderProcessing(string(p.OrderProcessing)),
		ConfirmedAt:     p.ConfirmedAt,
		CreatedAt:       p.CreatedAt,
	}
}

// clamp pulls v into [min, max]; zero means absent and takes def, so
// negative values clamp to min rather than defaulting.
func clamp(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// newPaymentID generates a random payment order identifier.
func newPaymentID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		// Fallback to a timestamp-based ID (should never happen)
		return "pay_" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return "pay_" + hex.EncodeToString(b)
}

func (s *Service) observeQuery(_ context.Context, operation string, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveQuery(operation, s.now().Sub(started))
	}
}
