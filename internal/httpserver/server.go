package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/AgentPay/server/internal/config"
	"github.com/AgentPay/server/internal/logger"
	"github.com/AgentPay/server/internal/metrics"
	"github.com/AgentPay/server/internal/payments"
	"github.com/AgentPay/server/internal/ratelimit"
	"github.com/AgentPay/server/internal/rates"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	payments *payments.Service
	rates    *rates.Client
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, paymentsSvc *payments.Service, ratesClient *rates.Client, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			payments: paymentsSvc,
			rates:    ratesClient,
			metrics:  metricsCollector,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, paymentsSvc, ratesClient, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches AgentPay routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, paymentsSvc *payments.Service, ratesClient *rates.Client, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{
		cfg:      cfg,
		payments: paymentsSvc,
		rates:    ratesClient,
		metrics:  metricsCollector,
		logger:   appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied first for all responses)
	router.Use(securityHeadersMiddleware)

	// Structured logging middleware (BEFORE RequestID for context propagation)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled: cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   cfg.RateLimit.GlobalLimit,
		GlobalWindow:  cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:  cfg.RateLimit.PerIPEnabled,
		PerIPLimit:    cfg.RateLimit.PerIPLimit,
		PerIPWindow:   cfg.RateLimit.PerIPWindow.Duration,
		Metrics:       metricsCollector,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	// Timeout middleware is applied per route group so the health and
	// metrics endpoints are not held to the aggregation query timeout.
	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with 5s timeout (health checks, metrics)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/agentpay-health", handler.health)
		// Prometheus metrics endpoint, protected by an optional admin API key
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Aggregation and mutation endpoints with 30s timeout
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// API v1 - Payment aggregation endpoints. POST with a JSON body
		// is the primary contract; GET with query parameters is kept as
		// a convenience for dashboards and manual checks.
		r.Post(prefix+"/agentpay/v1/payments/list", handler.listPayments)
		r.Get(prefix+"/agentpay/v1/payments/list", handler.listPayments)
		r.Post(prefix+"/agentpay/v1/payments/stats", handler.paymentStats)
		r.Get(prefix+"/agentpay/v1/payments/stats", handler.paymentStats)
		r.Post(prefix+"/agentpay/v1/payments/pending-summary", handler.pendingSummary)
		r.Get(prefix+"/agentpay/v1/payments/pending-summary", handler.pendingSummary)

		// API v1 - Payment mutations
		r.Post(prefix+"/agentpay/v1/payments/order-processing", handler.updateOrderProcessing)
		r.Post(prefix+"/agentpay/v1/payments/prepare", handler.preparePayment)
		r.Post(prefix+"/agentpay/v1/payments/confirm", handler.confirmPayment)

		// API v1 - Store registry
		r.Post(prefix+"/agentpay/v1/stores/save", handler.saveStore)
		r.Post(prefix+"/agentpay/v1/stores/list", handler.listStores)
		r.Get(prefix+"/agentpay/v1/stores/list", handler.listStores)

		// API v1 - Exchange rate
		r.Get(prefix+"/agentpay/v1/rates/usdt-krw", handler.usdtKrwRate)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
