package devrun

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Reconciler periodically compares the authority's text with the local
// snapshot and overwrites the authority when they differ. The correction is
// last-writer-wins; no merge is attempted.
type Reconciler struct {
	runID    string
	source   TextSource
	observer *Observer
	batcher  *Batcher
	clock    clockz.Clock
	interval time.Duration
}

// NewReconciler creates a Reconciler for runID. interval defaults to 5s.
func NewReconciler(runID string, source TextSource, observer *Observer, batcher *Batcher, interval time.Duration, clock clockz.Clock) *Reconciler {
	if interval == 0 {
		interval = DefaultReconcileInterval
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Reconciler{
		runID:    runID,
		source:   source,
		observer: observer,
		batcher:  batcher,
		clock:    clock,
		interval: interval,
	}
}

// Run checks on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			_, _ = r.Check(ctx)
		}
	}
}

// Check fetches the authoritative text once. On a mismatch the queued moves
// are replaced by a single full-replace move carrying the local text, which
// is flushed at once. It reports whether a correction was sent.
//
// A check is skipped while a flush is in flight, and abandoned when a flush
// was taken while the text was being fetched: the authority may already be
// ahead of what it returned.
func (r *Reconciler) Check(ctx context.Context) (bool, error) {
	mark, ok := r.batcher.Mark()
	if !ok {
		return false, nil
	}

	server, err := r.source.GetText(ctx, r.runID)
	if err != nil {
		capitan.Error(ctx, ReconcileFailed,
			RunIDKey.Field(r.runID),
			ErrorKey.Field(err.Error()),
		)
		return false, err
	}

	local, _ := r.observer.Snapshot()
	if !r.observer.correct(server, mark) {
		capitan.Info(ctx, ReconcileChecked,
			RunIDKey.Field(r.runID),
			LocalLengthKey.Field(runeLen(local)),
			ServerLengthKey.Field(runeLen(server)),
		)
		return false, nil
	}

	capitan.Info(ctx, ReconcileCorrected,
		RunIDKey.Field(r.runID),
		LocalLengthKey.Field(runeLen(local)),
		ServerLengthKey.Field(runeLen(server)),
	)
	return true, r.batcher.Flush(ctx)
}
