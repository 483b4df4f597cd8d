package agentpay

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/AgentPay/server/internal/config"
	"github.com/AgentPay/server/internal/dbpool"
	"github.com/AgentPay/server/internal/httpserver"
	"github.com/AgentPay/server/internal/lifecycle"
	"github.com/AgentPay/server/internal/logger"
	"github.com/AgentPay/server/internal/metrics"
	"github.com/AgentPay/server/internal/payments"
	"github.com/AgentPay/server/internal/rates"
	"github.com/AgentPay/server/internal/storage"
)

// App wires the AgentPay components for reuse or standalone serving.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Payments *payments.Service
	Rates    *rates.Client

	router           chi.Router
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store  storage.Store
	router chi.Router
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// NewApp assembles the AgentPay services for embedding.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("agentpay: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	app.metricsCollector = metricsCollector

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := newStore(cfg, app.resourceManager)
		if err != nil {
			app.resourceManager.Close()
			return nil, err
		}
		app.Store = store
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "agentpay-server",
		Environment: cfg.Logging.Environment,
	})

	app.Payments = payments.NewService(app.Store, metricsCollector)
	app.Rates = rates.NewClient(cfg.Rates, metricsCollector, appLogger)

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	httpserver.ConfigureRouter(app.router, cfg, app.Payments, app.Rates, metricsCollector, appLogger)

	return app, nil
}

// newStore builds the storage backend from config, registering owned
// resources for shutdown. The postgres backend shares one connection
// pool so future repositories reuse it.
func newStore(cfg *config.Config, manager *lifecycle.Manager) (storage.Store, error) {
	if cfg.Storage.Backend == "postgres" || (cfg.Storage.Backend == "" && cfg.Storage.MongoDBURL == "" && cfg.Storage.PostgresURL != "") {
		pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, err
		}
		manager.Register("postgres-pool", pool)

		store, err := storage.NewPostgresStoreWithDB(pool.DB())
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	store, err := storage.NewStore(storage.StoreConfig{
		Backend:         cfg.Storage.Backend,
		MongoDBURL:      cfg.Storage.MongoDBURL,
		MongoDBDatabase: cfg.Storage.MongoDBDatabase,
		PostgresURL:     cfg.Storage.PostgresURL,
		PostgresPool:    cfg.Storage.PostgresPool,
	})
	if err != nil {
		return nil, err
	}
	manager.Register("storage", store)

	if _, ok := store.(*storage.MemoryStore); ok {
		log.Warn().
			Msg("agentpay: defaulting to in-memory store - do not use this backend in production")
	}
	return store, nil
}

// Router returns the chi router with AgentPay routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases resources owned by the app.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding AgentPay.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
