package devrun

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// BatcherConfig holds configuration for a Batcher.
type BatcherConfig struct {
	IdleWindow time.Duration // Optional, defaults to 350ms
	Clock      clockz.Clock  // Optional, defaults to clockz.RealClock
	Options    []Option      // Reliability options for the flush pipeline
}

// Batcher turns a stream of moves into rate-limited sends.
//
// Every append restarts the idle timer; when it fires the whole queue is
// flushed as one batch. At most one flush is in flight: a flush requested
// meanwhile is dropped, and the moves it would have carried go out with
// the next one. Move ids are assigned when a batch is taken, so the ids a
// run sends are strictly increasing.
//
// A failed batch goes back to the head of the queue unless the queue was
// superseded (document switch, reconciliation) while it was in flight.
//
// Batchers are safe for concurrent use by multiple goroutines.
type Batcher struct {
	runID    string
	editor   Editor
	pipeline pipz.Chainable[*FlushRequest]
	clock    clockz.Clock
	idle     time.Duration
	ctx      context.Context

	mu       sync.Mutex
	queue    []Move // not yet numbered
	retry    []Move // numbered, from a failed flush
	nextID   int
	timer    clockz.Timer
	timerGen int
	inFlight bool
	flight   chan struct{}
	missed   bool
	flushes  int
	epoch    int
	closed   bool
}

// NewBatcher creates a Batcher sending the moves of runID through client.
// editor supplies the file name and language sampled at flush time; it
// may be nil.
func NewBatcher(runID string, client Client, editor Editor, cfg BatcherConfig) *Batcher {
	if cfg.IdleWindow == 0 {
		cfg.IdleWindow = DefaultIdleWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}
	return &Batcher{
		runID:    runID,
		editor:   editor,
		pipeline: buildPipeline(client, cfg.Options...),
		clock:    cfg.Clock,
		idle:     cfg.IdleWindow,
		ctx:      context.Background(),
	}
}

// Append queues moves and restarts the idle timer.
// Moves appended after Close are ignored.
func (b *Batcher) Append(moves ...Move) {
	if len(moves) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, moves...)
	b.armLocked()
}

// Switch supersedes everything queued with a single move for a newly
// activated document. The caller flushes afterwards.
func (b *Batcher) Switch(move Move) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.supersedeLocked(move)
}

// Mark returns the number of flushes taken so far. It reports false while
// a flush is in flight, when the authority may be about to change.
func (b *Batcher) Mark() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes, !b.inFlight
}

// ReplaceIf supersedes everything queued with move, provided no flush has
// been taken since mark. The caller flushes afterwards.
func (b *Batcher) ReplaceIf(mark int, move Move) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.inFlight || b.flushes != mark {
		return false
	}
	b.supersedeLocked(move)
	return true
}

func (b *Batcher) supersedeLocked(move Move) {
	b.stopTimerLocked()
	b.queue = []Move{move}
	b.retry = nil
	b.epoch++
}

// Len returns the number of moves waiting to be sent.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) + len(b.retry)
}

// Busy reports whether a flush is in flight.
func (b *Batcher) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Flush sends the whole queue as one batch. It returns nil without sending
// when the queue is empty, another flush is in flight or the batcher is
// closed.
func (b *Batcher) Flush(ctx context.Context) error {
	return b.flush(ctx, false)
}

func (b *Batcher) flush(ctx context.Context, final bool) error {
	req := b.take(ctx, final)
	if req == nil {
		return nil
	}

	capitan.Info(ctx, FlushStarted,
		RunIDKey.Field(req.RunID),
		RequestIDKey.Field(req.FlushID),
		MoveCountKey.Field(len(req.Moves)),
		MoveIDKey.Field(req.Moves[len(req.Moves)-1].MoveID),
		FileKey.Field(deref(req.File)),
		LanguageKey.Field(deref(req.Language)),
	)

	_, err := b.pipeline.Process(ctx, req)
	b.finish(req, err)

	if err != nil {
		capitan.Error(ctx, FlushFailed,
			RunIDKey.Field(req.RunID),
			RequestIDKey.Field(req.FlushID),
			MoveCountKey.Field(len(req.Moves)),
			ErrorKey.Field(err.Error()),
		)
		return err
	}

	capitan.Info(ctx, FlushCompleted,
		RunIDKey.Field(req.RunID),
		RequestIDKey.Field(req.FlushID),
		MoveCountKey.Field(len(req.Moves)),
	)
	return nil
}

// take hands the queue to a new flush, or returns nil. Once closed only
// the final flush may take.
func (b *Batcher) take(ctx context.Context, final bool) *FlushRequest {
	b.mu.Lock()
	if b.closed && !final {
		b.mu.Unlock()
		return nil
	}
	if b.inFlight {
		b.missed = true
		b.mu.Unlock()
		capitan.Info(ctx, FlushDropped, RunIDKey.Field(b.runID))
		return nil
	}
	if len(b.queue) == 0 && len(b.retry) == 0 {
		b.mu.Unlock()
		return nil
	}

	b.stopTimerLocked()
	moves := b.retry
	b.retry = nil
	for _, m := range b.queue {
		m.MoveID = b.nextID
		b.nextID++
		moves = append(moves, m)
	}
	b.queue = nil
	b.inFlight = true
	b.flight = make(chan struct{})
	b.flushes++

	req := &FlushRequest{
		RunID:   b.runID,
		Moves:   moves,
		FlushID: uuid.New().String(),
		Epoch:   b.epoch,
	}
	b.mu.Unlock()

	if b.editor != nil {
		if doc, ok := b.editor.Active(); ok {
			req.File = &doc.Name
			req.Language = &doc.Language
		}
	}
	return req
}

// finish ends the in-flight flush. Moves of a failed flush are put back
// ahead of everything queued since, unless the queue was superseded, and
// are resent after the next idle window.
func (b *Batcher) finish(req *FlushRequest, err error) {
	b.mu.Lock()
	b.inFlight = false
	close(b.flight)
	if err != nil && req.Epoch == b.epoch {
		b.retry = append(req.Moves, b.retry...)
		if !b.closed {
			b.armLocked()
		}
	}
	again := b.missed && len(b.queue) > 0 && !b.closed
	b.missed = false
	b.mu.Unlock()

	if again {
		go func() { _ = b.Flush(b.ctx) }()
	}
}

// Close stops the idle timer and makes one final, bounded flush. A flush
// already in flight is waited for until ctx ends. The final flush is not
// retried.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopTimerLocked()
	var flight chan struct{}
	if b.inFlight {
		flight = b.flight
	}
	b.mu.Unlock()

	if flight != nil {
		select {
		case <-flight:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.flush(ctx, true)
}

// armLocked (re)starts the idle timer.
func (b *Batcher) armLocked() {
	b.stopTimerLocked()
	gen := b.timerGen
	b.timer = b.clock.AfterFunc(b.idle, func() { b.onIdle(gen) })
}

func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
}

// onIdle runs inside the clock's callback, which must not block on b.mu.
func (b *Batcher) onIdle(gen int) {
	go b.idleFlush(gen)
}

func (b *Batcher) idleFlush(gen int) {
	b.mu.Lock()
	if gen != b.timerGen || b.closed {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.mu.Unlock()

	_ = b.Flush(b.ctx)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
