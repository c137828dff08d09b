package devrun

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// ObserverConfig holds configuration for an Observer.
type ObserverConfig struct {
	IdleWindow         time.Duration // Latencies above it are reported as 0
	TextPollInterval   time.Duration // Optional, defaults to 500ms
	CursorPollInterval time.Duration // Optional, defaults to 1000ms
	Clock              clockz.Clock  // Optional, defaults to clockz.RealClock
	Encoder            Encoder       // Optional, defaults to NewDiffEncoder()
}

// Observer samples the active document and turns every difference from
// the previous sample into moves for a Batcher.
//
// The snapshot starts empty, so the first sample of a run carries the
// document's whole text as one insertion.
type Observer struct {
	editor  Editor
	batcher *Batcher
	encoder Encoder
	clock   clockz.Clock
	idle    time.Duration
	text    time.Duration
	cursor  time.Duration

	mu        sync.Mutex
	snapshot  snapshot
	lastEvent time.Time
}

type snapshot struct {
	name   string
	text   string
	cursor int
	primed bool
}

// NewObserver creates an Observer feeding batcher.
func NewObserver(editor Editor, batcher *Batcher, cfg ObserverConfig) *Observer {
	if cfg.IdleWindow == 0 {
		cfg.IdleWindow = DefaultIdleWindow
	}
	if cfg.TextPollInterval == 0 {
		cfg.TextPollInterval = DefaultTextPollInterval
	}
	if cfg.CursorPollInterval == 0 {
		cfg.CursorPollInterval = DefaultCursorPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}
	if cfg.Encoder == nil {
		cfg.Encoder = NewDiffEncoder()
	}
	return &Observer{
		editor:    editor,
		batcher:   batcher,
		encoder:   cfg.Encoder,
		clock:     cfg.Clock,
		idle:      cfg.IdleWindow,
		text:      cfg.TextPollInterval,
		cursor:    cfg.CursorPollInterval,
		lastEvent: cfg.Clock.Now(),
	}
}

// Run samples on the poll tickers, and on every change notification when
// the editor implements Notifier, until ctx is done.
func (o *Observer) Run(ctx context.Context) {
	textTicker := o.clock.NewTicker(o.text)
	defer textTicker.Stop()
	cursorTicker := o.clock.NewTicker(o.cursor)
	defer cursorTicker.Stop()

	var changes <-chan struct{}
	if n, ok := o.editor.(Notifier); ok {
		changes = n.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-textTicker.C():
			o.SampleText(ctx)
		case <-cursorTicker.C():
			o.SampleCursor(ctx)
		case <-changes:
			o.SampleText(ctx)
		}
	}
}

// SampleText compares the active document with the snapshot and queues
// one move per changed region, or a cursor-only move when just the cursor
// moved. It returns the number of moves queued.
func (o *Observer) SampleText(ctx context.Context) int {
	return o.sample(ctx, true)
}

// SampleCursor queues a cursor-only move when the cursor moved and the text
// did not. Text changes are left to SampleText.
func (o *Observer) SampleCursor(ctx context.Context) int {
	return o.sample(ctx, false)
}

func (o *Observer) sample(ctx context.Context, withText bool) int {
	doc, ok := o.editor.Active()
	if !ok {
		return 0
	}
	if doc.Cursor < 0 {
		doc.Cursor = 0
	}

	o.mu.Lock()
	now := o.clock.Now()

	if o.snapshot.primed && doc.Name != o.snapshot.name {
		move := Move{Latency: o.latency(now), Cursor: doc.Cursor}
		o.snapshot = snapshot{name: doc.Name, text: doc.Text, cursor: doc.Cursor, primed: true}
		o.lastEvent = now
		o.batcher.Switch(move)
		o.mu.Unlock()

		capitan.Info(ctx, DocumentSwitched,
			FileKey.Field(doc.Name),
			LanguageKey.Field(doc.Language),
			CursorKey.Field(doc.Cursor),
		)
		_ = o.batcher.Flush(ctx)
		return 1
	}
	if !o.snapshot.primed {
		o.snapshot = snapshot{name: doc.Name, primed: true}
	}

	var moves []Move
	switch {
	case doc.Text != o.snapshot.text:
		if !withText {
			break
		}
		latency := o.latency(now)
		for i, s := range Sequential(o.encoder.Encode(o.snapshot.text, doc.Text)) {
			span := s
			move := Move{Cursor: doc.Cursor, Changes: &span}
			if i == 0 {
				move.Latency = latency
			}
			moves = append(moves, move)
		}
		o.snapshot.text = doc.Text
		o.snapshot.cursor = doc.Cursor
		o.lastEvent = now
	case doc.Cursor != o.snapshot.cursor:
		moves = append(moves, Move{Latency: o.latency(now), Cursor: doc.Cursor})
		o.snapshot.cursor = doc.Cursor
		o.lastEvent = now
	}
	o.batcher.Append(moves...)
	o.mu.Unlock()

	for _, m := range moves {
		capitan.Info(ctx, MoveCaptured,
			LatencyKey.Field(int(m.Latency)),
			CursorKey.Field(m.Cursor),
		)
	}
	return len(moves)
}

// Snapshot returns the last observed text and cursor.
func (o *Observer) Snapshot() (string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot.text, o.snapshot.cursor
}

// correct replaces the batcher queue with a full-replace move when the
// authority's text differs from the snapshot. mark comes from the
// batcher before the authority was asked.
func (o *Observer) correct(server string, mark int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if server == o.snapshot.text {
		return false
	}
	now := o.clock.Now()
	move := Move{
		Latency: o.latency(now),
		Cursor:  o.snapshot.cursor,
		Changes: &Span{From: 0, To: runeLen(server), Insert: o.snapshot.text},
	}
	if !o.batcher.ReplaceIf(mark, move) {
		return false
	}
	o.lastEvent = now
	return true
}

// latency is the time since the previous event in milliseconds, or 0 when
// it exceeds the idle window.
func (o *Observer) latency(now time.Time) int64 {
	d := now.Sub(o.lastEvent)
	if d < 0 || d > o.idle {
		return 0
	}
	return d.Milliseconds()
}
