package billing

import (
	"context"
	"log"
	"sync"
	"time"
)

// Overlap is how far back each refresh re-aggregates, covering buckets that
// could still receive late-arriving or out-of-order writes.
var overlap = map[Granularity]time.Duration{
	Hourly:  3 * time.Hour,
	Daily:   48 * time.Hour,
	Monthly: 35 * 24 * time.Hour,
}

// Aggregator keeps the rollup tables fresh on a fixed schedule and purges
// raw rows past the retention horizon. Purge never runs ahead of the slowest
// refresh: raw rows are only deleted once every granularity's watermark has
// passed them, so no un-aggregated data is lost.
type Aggregator struct {
	store     Store
	retention time.Duration
	intervals map[Granularity]time.Duration
	purgeTick time.Duration

	mu         sync.Mutex
	watermarks map[Granularity]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type AggregatorConfig struct {
	RetentionDays  int
	HourlyRefresh  time.Duration
	DailyRefresh   time.Duration
	MonthlyRefresh time.Duration
	PurgeInterval  time.Duration
}

func NewAggregator(store Store, cfg AggregatorConfig) *Aggregator {
	return &Aggregator{
		store:     store,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		intervals: map[Granularity]time.Duration{
			Hourly:  cfg.HourlyRefresh,
			Daily:   cfg.DailyRefresh,
			Monthly: cfg.MonthlyRefresh,
		},
		purgeTick:  cfg.PurgeInterval,
		watermarks: make(map[Granularity]time.Time),
	}
}

// Start launches one refresh loop per granularity plus the purge loop. The
// first refresh of each granularity backfills from the retention horizon.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	for _, g := range Granularities() {
		g := g
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.refreshLoop(ctx, g)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.purgeLoop(ctx)
	}()
}

func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Aggregator) refreshLoop(ctx context.Context, g Granularity) {
	// Initial backfill covers the whole retention window.
	if err := a.refresh(ctx, g, time.Now().Add(-a.retention)); err != nil {
		log.Printf("aggregator: initial %s refresh failed: %v", g, err)
	}

	ticker := time.NewTicker(a.intervals[g])
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.refresh(ctx, g, time.Now().Add(-overlap[g])); err != nil {
				log.Printf("aggregator: %s refresh failed: %v", g, err)
			}
		}
	}
}

// Refresh re-aggregates from `since` to now and advances the granularity's
// watermark to the window start on success. Exported for on-demand refresh.
func (a *Aggregator) Refresh(ctx context.Context, g Granularity, since time.Time) error {
	return a.refresh(ctx, g, since)
}

func (a *Aggregator) refresh(ctx context.Context, g Granularity, since time.Time) error {
	from := g.Truncate(since)
	to := time.Now().UTC()

	// Buckets overlapping purged raw data must keep their settled values:
	// recomputing them would see only the surviving rows. Resume at the
	// first bucket fully covered by retained data.
	purged, err := a.store.PurgedBefore(ctx)
	if err != nil {
		return err
	}
	if !purged.IsZero() && from.Before(purged) {
		if purged.Equal(g.Truncate(purged)) {
			from = purged
		} else {
			from = g.Next(purged)
		}
	}

	if err := a.store.RefreshRollup(ctx, g, from, to); err != nil {
		return err
	}

	a.mu.Lock()
	a.watermarks[g] = to
	a.mu.Unlock()

	return nil
}

// purgeSafeBefore is the newest timestamp raw rows may be deleted up to:
// the retention cutoff, clamped by the slowest granularity's watermark.
func (a *Aggregator) purgeSafeBefore(now time.Time) (time.Time, bool) {
	cutoff := now.Add(-a.retention)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, g := range Granularities() {
		w, ok := a.watermarks[g]
		if !ok {
			// A granularity has never refreshed; purging now could
			// drop rows no rollup has seen.
			return time.Time{}, false
		}
		// The refresh window reached w but late rows near w may not be
		// re-aggregated yet; only rows older than w-overlap are settled.
		settled := w.Add(-overlap[g])
		if settled.Before(cutoff) {
			cutoff = settled
		}
	}

	return cutoff, true
}

func (a *Aggregator) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(a.purgeTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before, ok := a.purgeSafeBefore(time.Now().UTC())
			if !ok {
				log.Printf("aggregator: skipping purge, rollups not yet refreshed")
				continue
			}
			n, err := a.store.PurgeRawBefore(ctx, before)
			if err != nil {
				log.Printf("aggregator: purge failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("aggregator: purged %d raw usage rows older than %s", n, before.Format(time.RFC3339))
			}
		}
	}
}
