// Package cache keeps the last built calendar in memory for a TTL and makes
// concurrent cache misses share a single upstream refresh.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "planningcal/internal/log"
	"planningcal/internal/metrics"
	"planningcal/internal/model"
)

// refreshKey names the one refresh ticket; there is a single cache slot.
const refreshKey = "calendar"

// Fetcher produces the events of one refresh cycle (login + scrape).
type Fetcher interface {
	Fetch(ctx context.Context) ([]model.Event, error)
}

// Encoder turns events into the served payload.
type Encoder interface {
	Encode(events []model.Event) ([]byte, error)
}

// Artifact is an encoded calendar. It is never mutated after construction.
type Artifact struct {
	Body       []byte
	EventCount int
	BuiltAt    time.Time
	ExpiresAt  time.Time
}

// Fresh reports whether the artifact may still be served at now.
func (a *Artifact) Fresh(now time.Time) bool {
	return a != nil && now.Before(a.ExpiresAt)
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is a single-slot calendar cache.
//
// At most one refresh runs at a time: callers that miss while a refresh is
// in flight wait for it and receive its artifact or its error. A failed
// refresh leaves the previous artifact in place and does not prevent the
// next miss from trying again.
type Cache struct {
	fetcher Fetcher
	encoder Encoder
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	current *Artifact

	group singleflight.Group

	// onJoin, if set, runs once the caller holds a place on the ticket.
	onJoin func()
}

// New returns an empty cache.
func New(fetcher Fetcher, encoder Encoder, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		encoder: encoder,
		ttl:     ttl,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Current returns the last successful artifact, fresh or not.
func (c *Cache) Current() *Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Cache) fresh() *Artifact {
	a := c.Current()
	if a.Fresh(c.now()) {
		return a
	}
	return nil
}

// GetOrRefresh returns the cached artifact while it is fresh, otherwise
// joins or starts the refresh. The refresh itself is not bound to ctx so
// that a client going away does not fail the callers sharing it; ctx only
// bounds how long this caller waits.
func (c *Cache) GetOrRefresh(ctx context.Context) (*Artifact, error) {
	if a := c.fresh(); a != nil {
		metrics.CacheLookups.WithLabelValues(metrics.LookupHit).Inc()
		appLog.Debug("cache hit", "expires_at", a.ExpiresAt.Format(time.RFC3339))
		return a, nil
	}

	started := false
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		started = true
		return c.refresh(context.WithoutCancel(ctx))
	})
	if c.onJoin != nil {
		c.onJoin()
	}

	select {
	case res := <-ch:
		// The closure only runs for the caller that opened the ticket.
		if started {
			metrics.CacheLookups.WithLabelValues(metrics.LookupMiss).Inc()
		} else {
			metrics.CacheLookups.WithLabelValues(metrics.LookupWait).Inc()
			appLog.Debug("cache wait on in-flight refresh")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Artifact), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh runs inside the single-flight ticket.
func (c *Cache) refresh(ctx context.Context) (*Artifact, error) {
	// A refresh may have completed between our freshness check and
	// acquiring the ticket.
	if a := c.fresh(); a != nil {
		return a, nil
	}

	t0 := time.Now()
	appLog.Info("cache miss, refreshing calendar")

	events, err := c.fetcher.Fetch(ctx)
	if err == nil {
		var body []byte
		body, err = c.encoder.Encode(events)
		if err == nil {
			built := c.now()
			a := &Artifact{
				Body:       body,
				EventCount: len(events),
				BuiltAt:    built,
				ExpiresAt:  built.Add(c.ttl),
			}
			c.mu.Lock()
			c.current = a
			c.mu.Unlock()

			metrics.Refreshes.WithLabelValues(metrics.ResultOK).Inc()
			metrics.RefreshDuration.Observe(time.Since(t0).Seconds())
			metrics.Events.Set(float64(len(events)))
			appLog.Info("calendar refreshed", "events", len(events), "bytes", len(body), "expires_at", a.ExpiresAt.Format(time.RFC3339), "duration_ms", appLog.Since(t0))
			return a, nil
		}
	}

	metrics.Refreshes.WithLabelValues(metrics.ResultError).Inc()
	metrics.RefreshDuration.Observe(time.Since(t0).Seconds())
	appLog.Error("calendar refresh failed", err, "duration_ms", appLog.Since(t0))
	return nil, err
}
