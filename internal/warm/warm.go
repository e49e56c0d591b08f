// Package warm refreshes the calendar cache on a cron schedule so that
// subscribed clients are usually served from cache.
package warm

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"planningcal/internal/cache"
	appLog "planningcal/internal/log"
)

// Refresher is satisfied by *cache.Cache.
type Refresher interface {
	GetOrRefresh(ctx context.Context) (*cache.Artifact, error)
}

// Warmer runs GetOrRefresh on a schedule. Runs go through the cache's
// single-flight ticket, so they never add a second concurrent login.
type Warmer struct {
	cron    *cron.Cron
	target  Refresher
	timeout time.Duration
}

// New parses schedule (standard 5-field cron, or descriptors like "@every 10m").
func New(schedule string, target Refresher, timeout time.Duration) (*Warmer, error) {
	w := &Warmer{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		target:  target,
		timeout: timeout,
	}
	if _, err := w.cron.AddFunc(schedule, w.Run); err != nil {
		return nil, fmt.Errorf("warm: schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Run performs one warm-up. Errors are logged; the next request or tick
// tries again.
func (w *Warmer) Run() {
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	t0 := time.Now()
	a, err := w.target.GetOrRefresh(ctx)
	if err != nil {
		appLog.Error("cache warm-up failed", err, "duration_ms", appLog.Since(t0))
		return
	}
	appLog.Debug("cache warm-up done", "events", a.EventCount, "expires_at", a.ExpiresAt.Format(time.RFC3339), "duration_ms", appLog.Since(t0))
}

// Start schedules runs until ctx is canceled.
func (w *Warmer) Start(ctx context.Context) {
	w.cron.Start()
	appLog.Info("cache warmer started", "next", w.cron.Entries()[0].Next.Format(time.RFC3339))
	go func() {
		<-ctx.Done()
		<-w.cron.Stop().Done()
		appLog.Info("cache warmer stopped")
	}()
}
