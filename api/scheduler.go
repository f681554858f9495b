/*
scheduler.go - Automated depletion scheduler

PURPOSE:
  Periodically runs the depletion engine over the most recent sales
  window for each configured location, so ledgers stay current without
  operators triggering runs by hand.

DESIGN:
  - Background goroutine with a configurable interval
  - Each tick processes [lastRun, now) per location
  - Idempotency makes overlap with manual runs harmless: a record
    already depleted is skipped, never double-posted

USAGE:
  scheduler := NewDepletionScheduler(engine, locations, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunDepletion endpoint (manual runs)
  - depletion/depletion.go: the engine itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/barflow/inventory-engine/depletion"
	"github.com/barflow/inventory-engine/ledger"
)

// DepletionScheduler runs the engine on a fixed interval.
type DepletionScheduler struct {
	Engine    *depletion.Engine
	Locations []ledger.LocationID
	Interval  time.Duration
	Log       zerolog.Logger

	// how far back the first tick reaches
	Backfill time.Duration

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewDepletionScheduler creates a scheduler with a 15 minute interval
// and a 24 hour initial backfill.
func NewDepletionScheduler(engine *depletion.Engine, locations []ledger.LocationID, log zerolog.Logger) *DepletionScheduler {
	return &DepletionScheduler{
		Engine:    engine,
		Locations: locations,
		Interval:  15 * time.Minute,
		Backfill:  24 * time.Hour,
		Log:       log,
		stop:      make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ds *DepletionScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if len(ds.Locations) == 0 {
		ds.Log.Info().Msg("depletion scheduler idle: no locations configured")
		return
	}

	ds.lastRun = time.Now().Add(-ds.Backfill)
	ds.ticker = time.NewTicker(ds.Interval)
	ds.wg.Add(1)
	// run gets its own reference: Stop nils the field under the mutex
	// while the loop keeps selecting on the channel.
	go ds.run(ds.ticker)

	ds.Log.Info().
		Dur("interval", ds.Interval).
		Int("locations", len(ds.Locations)).
		Msg("depletion scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (ds *DepletionScheduler) Stop() {
	ds.mu.Lock()
	ticker := ds.ticker
	ds.ticker = nil
	ds.mu.Unlock()

	if ticker == nil {
		return
	}
	// Wait outside the mutex: an in-flight tick needs it to update lastRun.
	ticker.Stop()
	close(ds.stop)
	ds.wg.Wait()
	ds.Log.Info().Msg("depletion scheduler stopped")
}

func (ds *DepletionScheduler) run(ticker *time.Ticker) {
	defer ds.wg.Done()

	// Run immediately on start
	ds.tick()

	for {
		select {
		case <-ticker.C:
			ds.tick()
		case <-ds.stop:
			return
		}
	}
}

func (ds *DepletionScheduler) tick() {
	ctx := context.Background()
	now := time.Now()

	ds.mu.Lock()
	from := ds.lastRun
	ds.mu.Unlock()

	window := depletion.Window{From: from, To: now}
	for _, loc := range ds.Locations {
		stats, err := ds.Engine.Run(ctx, loc, window)
		if err != nil {
			// leave lastRun alone so the failed window is retried
			ds.Log.Error().Err(err).
				Str("location_id", string(loc)).
				Msg("scheduled depletion run failed")
			return
		}
		if stats.Created > 0 || stats.Unmapped > 0 || stats.Unresolved > 0 {
			ds.Log.Info().
				Str("location_id", string(loc)).
				Int("created", stats.Created).
				Int("unmapped", stats.Unmapped).
				Int("unresolved", stats.Unresolved).
				Msg("scheduled depletion run")
		}
	}

	ds.mu.Lock()
	ds.lastRun = now
	ds.mu.Unlock()
}

// RunNow triggers an immediate tick (for testing/admin).
func (ds *DepletionScheduler) RunNow() {
	ds.tick()
}
