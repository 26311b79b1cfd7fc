package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paramhub/paramhub/internal/store"
)

// Reconciler drives Dispatcher.Dispatch from two sources of truth: a direct
// hint carrying the exact (id, timestamp) that changed (fed by the
// multicast listener and by local writes), and a periodic full scan of the
// store via ChangedSince plus the generation counter (spec.md §4.E
// set_up_timer_poll / update_poll). Both paths converge on the same
// highWaterMark so a local write's own hint and a later timer tick never
// double-dispatch for a row the timer has already seen.
type Reconciler struct {
	store      *store.Store
	dispatcher *Dispatcher
	log        *slog.Logger

	mu            sync.Mutex
	highWaterMark int64
	lastGen       int64

	cancelTimer context.CancelFunc
}

// NewReconciler constructs a Reconciler bound to store s and dispatcher d.
// The high-water mark starts at 0 so the first poll treats every currently
// non-default row as "changed" — this only matters if a Reconciler is
// attached to a store that already has rows (e.g. reopening an existing
// deployment); freshly registered callbacks for parameters that were
// already non-default at registration time are expected to read the
// current value via Get rather than wait for a spurious initial callback.
func NewReconciler(s *store.Store, d *Dispatcher, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	ctx := context.Background()
	gen, _ := s.Generation(ctx)
	return &Reconciler{
		store:      s,
		dispatcher: d,
		log:        log.With("component", "reconciler"),
		lastGen:    gen,
	}
}

// Checkpoint returns this reconciler's high-water mark (the newest row
// timestamp it has dispatched for), taken before a local mutation for use
// with PollSince.
func (r *Reconciler) Checkpoint(ctx context.Context) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highWaterMark
}

// HandleHint processes one multicast-delivered (id, timestamp) hint: if the
// timestamp is newer than what this reconciler has already dispatched for,
// the parameter's callbacks run and the high-water mark advances.
func (r *Reconciler) HandleHint(ctx context.Context, id int, ts int64) {
	r.mu.Lock()
	advance := ts > r.highWaterMark
	if advance {
		r.highWaterMark = ts
	}
	r.mu.Unlock()

	if advance {
		r.dispatcher.Dispatch(id)
	}
}

// PollSince scans for every row changed after since and dispatches their
// callbacks, advancing the high-water mark to the newest timestamp seen.
// Local Set/Restore calls use this immediately after their write so a
// caller's own process sees its callbacks fire synchronously rather than
// waiting for the next timer tick or multicast round-trip.
func (r *Reconciler) PollSince(ctx context.Context, since int64) error {
	changes, err := r.store.ChangedSince(ctx, since)
	if err != nil {
		return err
	}
	r.applyChanges(changes)
	return nil
}

// PollOnce scans for everything changed since this reconciler's own
// high-water mark — the implementation of the C-ABI's update_poll.
func (r *Reconciler) PollOnce(ctx context.Context) error {
	r.mu.Lock()
	since := r.highWaterMark
	r.mu.Unlock()
	return r.PollSince(ctx, since)
}

// PollGeneration checks the store's generation counter and, if it has
// advanced since this reconciler last observed it (i.e. a factory_reset
// happened, locally or signaled by a peer), dispatches every parameter with
// a registered callback — because factory_reset clears every row, leaving
// no per-row timestamp for ChangedSince to find.
func (r *Reconciler) PollGeneration(ctx context.Context) error {
	gen, err := r.store.Generation(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	advanced := gen != r.lastGen
	r.lastGen = gen
	r.mu.Unlock()

	if !advanced {
		return nil
	}

	r.log.Info("generation advanced, re-dispatching all watched parameters", "generation", gen)
	for _, id := range r.dispatcher.watchedIDs() {
		r.dispatcher.Dispatch(id)
	}
	return nil
}

func (r *Reconciler) applyChanges(changes []store.Change) {
	if len(changes) == 0 {
		return
	}
	r.mu.Lock()
	newest := r.highWaterMark
	for _, c := range changes {
		if c.Timestamp > newest {
			newest = c.Timestamp
		}
	}
	r.highWaterMark = newest
	r.mu.Unlock()

	for _, c := range changes {
		r.dispatcher.Dispatch(c.ID)
	}
}

// StartTimer begins a periodic full reconciliation pass every intervalMS
// milliseconds: ChangedSince plus a generation check, combining both
// detection paths so a timer-only consumer (no multicast configured) still
// observes every S1-S6 scenario. Calling StartTimer again replaces any
// previously running timer.
func (r *Reconciler) StartTimer(ctx context.Context, intervalMS int) {
	r.Stop()

	timerCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelTimer = cancel
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-timerCtx.Done():
				return
			case <-ticker.C:
				if err := r.PollOnce(timerCtx); err != nil {
					r.log.Warn("timer poll failed", "error", err)
				}
				if err := r.PollGeneration(timerCtx); err != nil {
					r.log.Warn("generation poll failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels any running timer poll. Safe to call when no timer is
// running.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancelTimer
	r.cancelTimer = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
