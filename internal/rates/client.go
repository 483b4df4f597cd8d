package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/AgentPay/server/internal/config"
	"github.com/AgentPay/server/internal/httputil"
	"github.com/AgentPay/server/internal/metrics"
)

// Source labels where a returned rate came from.
type Source string

const (
	SourceLive     Source = "live"     // fetched from the upstream source on this call
	SourceCached   Source = "cached"   // served from the freshness cache
	SourceStale    Source = "stale"    // upstream failed, serving last known rate
	SourceFallback Source = "fallback" // no rate ever fetched, serving the configured fallback
)

// Rate is one observed USDT/KRW exchange rate.
type Rate struct {
	KrwPerUsdt float64   `json:"krwPerUsdt"`
	FetchedAt  time.Time `json:"fetchedAt"`
	Source     Source    `json:"source"`
}

// sourceResponse is the upstream payload shape.
type sourceResponse struct {
	KrwPerUsdt float64 `json:"krwPerUsdt"`
}

// Client fetches the KRW-per-USDT exchange rate from an HTTP source.
// Fetches go through a circuit breaker so a flapping source cannot
// stall dashboard responses; a fresh value is cached for the
// configured refresh interval, and the last known value is served
// while the source is unavailable.
type Client struct {
	sourceURL string
	fallback  float64
	refresh   time.Duration

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	mu   sync.RWMutex
	last *Rate

	// now is swappable for cache expiry tests.
	now func() time.Time
}

// NewClient creates an exchange rate client. metrics may be nil.
func NewClient(cfg config.RatesConfig, m *metrics.Metrics, logger zerolog.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange_rate_source",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			return counts.Requests >= 10 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("rates.breaker_state_changed")
		},
	})

	return &Client{
		sourceURL:  cfg.SourceURL,
		fallback:   cfg.FallbackKrwPerUsdt,
		refresh:    cfg.RefreshInterval.Duration,
		httpClient: httputil.NewClient(cfg.RequestTimeout.Duration),
		breaker:    breaker,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// KrwPerUsdt returns the current exchange rate. It never returns an
// error to the caller path that only needs a display rate: source
// failures degrade to the last known rate, then to the configured
// fallback.
func (c *Client) KrwPerUsdt(ctx context.Context) Rate {
	if cached, ok := c.fresh(); ok {
		return cached
	}

	rate, err := c.fetch(ctx)
	if err == nil {
		return rate
	}

	c.logger.Warn().Err(err).Msg("rates.fetch_failed")

	c.mu.RLock()
	last := c.last
	c.mu.RUnlock()
	if last != nil {
		stale := *last
		stale.Source = SourceStale
		return stale
	}

	return Rate{
		KrwPerUsdt: c.fallback,
		FetchedAt:  c.now().UTC(),
		Source:     SourceFallback,
	}
}

// fresh returns the cached rate while it is within the refresh window.
func (c *Client) fresh() (Rate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.last == nil || c.now().Sub(c.last.FetchedAt) >= c.refresh {
		return Rate{}, false
	}
	cached := *c.last
	cached.Source = SourceCached
	return cached, true
}

// fetch retrieves a rate from the upstream source through the breaker.
func (c *Client) fetch(ctx context.Context) (Rate, error) {
	if c.sourceURL == "" {
		return Rate{}, fmt.Errorf("no rate source configured")
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchOnce(ctx)
	})
	if c.metrics != nil {
		if err != nil {
			c.metrics.ObserveRateFetch(err, 0)
		} else {
			c.metrics.ObserveRateFetch(nil, result.(float64))
		}
	}
	if err != nil {
		return Rate{}, err
	}

	rate := Rate{
		KrwPerUsdt: result.(float64),
		FetchedAt:  c.now().UTC(),
		Source:     SourceLive,
	}

	c.mu.Lock()
	stored := rate
	c.last = &stored
	c.mu.Unlock()

	return rate, nil
}

// fetchOnce performs a single HTTP round-trip to the rate source.
func (c *Client) fetchOnce(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var payload sourceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode rate response: %w", err)
	}
	if payload.KrwPerUsdt <= 0 {
		return 0, fmt.Errorf("rate source returned non-positive rate %v", payload.KrwPerUsdt)
	}
	return payload.KrwPerUsdt, nil
}
