package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/rs/zerolog"
)

/* Read-only aggregation over the delivery history
 * Success rate = delivered / (delivered + failed) inside a window; pending
 * events are counted but never enter the rate
 */

// Store is everything the monitor reads. It never writes.
type Store interface {
	webhook.EndpointReader
	webhook.EventReader
	webhook.AttemptReader
}

// Config holds the health thresholds and cache sizing
type Config struct {
	HealthyThreshold  float64
	DegradedThreshold float64
	Window            time.Duration
	CacheTTL          time.Duration
	CacheSize         int
}

func DefaultConfig() Config {
	return Config{
		HealthyThreshold:  0.95,
		DegradedThreshold: 0.50,
		Window:            24 * time.Hour,
		CacheTTL:          30 * time.Second,
		CacheSize:         1024,
	}
}

// Validate checks threshold ordering and bounds
func (c Config) Validate() error {
	if c.HealthyThreshold <= 0 || c.HealthyThreshold > 1 {
		return fmt.Errorf("healthy threshold must be in (0, 1], got %v", c.HealthyThreshold)
	}
	if c.DegradedThreshold < 0 || c.DegradedThreshold > c.HealthyThreshold {
		return fmt.Errorf("degraded threshold must be in [0, healthy], got %v", c.DegradedThreshold)
	}
	if c.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

type Option func(*Monitor)

func WithClock(c webhook.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithConfig(cfg Config) Option {
	return func(m *Monitor) { m.cfg = cfg }
}

// Monitor computes delivery statistics, health and reports
type Monitor struct {
	store  Store
	cfg    Config
	clock  webhook.Clock
	logger zerolog.Logger
	health *lru.LRU[string, HealthReport]
}

func New(store Store, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		store:  store,
		cfg:    DefaultConfig(),
		clock:  webhook.SystemClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	size := m.cfg.CacheSize
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}
	// A zero TTL disables caching
	if m.cfg.CacheTTL > 0 {
		m.health = lru.NewLRU[string, HealthReport](size, nil, m.cfg.CacheTTL)
	}
	return m
}

// Config returns the active configuration
func (m *Monitor) Config() Config {
	return m.cfg
}

func (m *Monitor) endpoint(ctx context.Context, id string) (webhook.Endpoint, error) {
	ep, err := m.store.GetEndpoint(ctx, id)
	if errors.Is(err, webhook.ErrNotFound) {
		return webhook.Endpoint{}, &webhook.NotFoundError{Resource: "endpoint", ID: id}
	}
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	return ep, nil
}

// rate returns nil when nothing has completed, so callers never divide by zero
func rate(delivered, failed int) *float64 {
	total := delivered + failed
	if total == 0 {
		return nil
	}
	r := float64(delivered) / float64(total)
	return &r
}

// UseCase defines the monitoring operations exposed to transports
type UseCase interface {
	Stats(ctx context.Context, endpointID string, window time.Duration) (Stats, error)
	Health(ctx context.Context, endpointID string) (HealthReport, error)
	Report(ctx context.Context, from, to time.Time) (PerformanceReport, error)
	FailedDeliveries(ctx context.Context, limit int) ([]FailedDelivery, error)
	Dashboard(ctx context.Context) (Dashboard, error)
	Export(ctx context.Context, w io.Writer, format Format, f ExportFilter) error
}

var _ UseCase = (*Monitor)(nil)
