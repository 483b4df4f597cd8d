package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for AgentPay.
type Metrics struct {
	// Payment lifecycle metrics
	PaymentsPreparedTotal  *prometheus.CounterVec
	PaymentsConfirmedTotal *prometheus.CounterVec
	PaymentUsdtTotal       *prometheus.CounterVec
	PaymentKrwTotal        *prometheus.CounterVec

	// Order processing metrics
	OrderProcessingUpdatesTotal *prometheus.CounterVec

	// Query metrics
	QueryTotal    *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// Exchange rate metrics
	RateFetchesTotal *prometheus.CounterVec
	RateFetchErrors  prometheus.Counter
	CurrentKrwRate   prometheus.Gauge

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		PaymentsPreparedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payments_prepared_total",
				Help: "Total number of prepared payment orders",
			},
			[]string{"agentcode"},
		),
		PaymentsConfirmedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payments_confirmed_total",
				Help: "Total number of confirmed payments",
			},
			[]string{"agentcode"},
		),
		PaymentUsdtTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payment_usdt_total",
				Help: "Total confirmed payment volume in USDT",
			},
			[]string{"agentcode"},
		),
		PaymentKrwTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payment_krw_total",
				Help: "Total confirmed payment volume in KRW",
			},
			[]string{"agentcode"},
		),

		OrderProcessingUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_order_processing_updates_total",
				Help: "Total number of order processing status updates",
			},
			[]string{"to_status"},
		),

		QueryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_queries_total",
				Help: "Total number of aggregation queries served",
			},
			[]string{"operation"},
		),
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_query_duration_seconds",
				Help:    "Aggregation query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),

		RateFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_rate_fetches_total",
				Help: "Total number of exchange rate fetch attempts",
			},
			[]string{"outcome"},
		),
		RateFetchErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpay_rate_fetch_errors_total",
				Help: "Total number of exchange rate fetch failures",
			},
		),
		CurrentKrwRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentpay_current_krw_per_usdt",
				Help: "Most recently observed KRW per USDT exchange rate",
			},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObservePaymentPrepared records a newly prepared payment order.
func (m *Metrics) ObservePaymentPrepared(agentCode string) {
	m.PaymentsPreparedTotal.WithLabelValues(agentCode).Inc()
}

// ObservePaymentConfirmed records a confirmed payment and its volume.
func (m *Metrics) ObservePaymentConfirmed(agentCode string, usdtAmount, krwAmount float64) {
	m.PaymentsConfirmedTotal.WithLabelValues(agentCode).Inc()
	m.PaymentUsdtTotal.WithLabelValues(agentCode).Add(usdtAmount)
	m.PaymentKrwTotal.WithLabelValues(agentCode).Add(krwAmount)
}

// ObserveOrderProcessingUpdate records an order processing transition.
func (m *Metrics) ObserveOrderProcessingUpdate(toStatus string) {
	m.OrderProcessingUpdatesTotal.WithLabelValues(toStatus).Inc()
}

// ObserveQuery records a served aggregation query.
func (m *Metrics) ObserveQuery(operation string, duration time.Duration) {
	m.QueryTotal.WithLabelValues(operation).Inc()
	m.QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRateFetch records an exchange rate fetch attempt.
func (m *Metrics) ObserveRateFetch(err error, krwPerUsdt float64) {
	if err != nil {
		m.RateFetchesTotal.WithLabelValues("error").Inc()
		m.RateFetchErrors.Inc()
		return
	}
	m.RateFetchesTotal.WithLabelValues("success").Inc()
	m.CurrentKrwRate.Set(krwPerUsdt)
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
