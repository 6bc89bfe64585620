package labcom

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultCacheTTL = 30 * time.Second

// MeasurementSource is the upstream dependency of the cache.
type MeasurementSource interface {
	Measurements(ctx context.Context) ([]Measurement, error)
}

// Cache is a short-lived cache of the full measurement set, shared by every
// device coordinator so a burst of simultaneous refreshes collapses into one
// upstream call. A non-nil error means no data could be obtained; a nil error
// with an empty slice means the account genuinely has no measurements. The
// two must not be conflated when deciding whether a refresh failed.
type Cache struct {
	source MeasurementSource
	ttl    time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	data      []Measurement
	fetchedAt time.Time
}

// NewCache wraps a measurement source with a TTL cache.
func NewCache(source MeasurementSource, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		logger: logger.With().Str("component", "measurement_cache").Logger(),
	}
}

// All returns the cached measurement set, refetching when the entry has aged
// past the TTL or force is set.
func (c *Cache) All(ctx context.Context, force bool) ([]Measurement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl {
		return c.data, nil
	}

	measurements, err := c.source.Measurements(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("measurement fetch failed, keeping stale cache")
		return nil, err
	}

	c.data = measurements
	c.fetchedAt = time.Now()
	c.logger.Debug().Int("count", len(measurements)).Msg("measurement cache refreshed")
	return c.data, nil
}
