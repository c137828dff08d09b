// Package devrun streams a live text-editing session to a remote authority.
//
// It observes incremental edits and cursor movement in an open document,
// encodes them as replace spans, batches them and ships them over a
// persistent, correlated request/response connection. A periodic
// reconciliation loop compares the authority's copy with the local text
// and corrects drift with a full replace.
//
// The engine is made of five collaborating parts:
//
//   - Encoder: turns an (old, new) text pair into ordered replace spans
//   - Observer: samples the active document and produces latency-tagged moves
//   - Batcher: queues moves, debounces, and sends at most one batch at a time
//   - Transport: the persistent connection with auth handshake and correlation
//   - Reconciler: fetches the authoritative text and corrects mismatches
//
// A Controller wires them together for one run.
//
// Basic usage:
//
//	creds := devrun.NewCredentialStore()
//	creds.Set(cookie)
//	transport := devrun.NewTransport(devrun.TransportConfig{
//	    Origins:     map[devrun.Origin]string{devrun.OriginLocal: "ws://localhost:3000/ws"},
//	    Credentials: creds,
//	})
//	controller := devrun.NewController(devrun.NewRPCClient(transport), editor, devrun.ControllerConfig{})
//	run, _ := controller.Start(ctx, "two-sum", devrun.ModeAnyPercent)
//	defer controller.Stop(ctx)
package devrun

import (
	"context"
	"time"
)

// Reference cadence used when a config leaves a duration unset.
const (
	DefaultIdleWindow         = 350 * time.Millisecond
	DefaultRequestTimeout     = 10 * time.Second
	DefaultReconcileInterval  = 5 * time.Second
	DefaultTextPollInterval   = 500 * time.Millisecond
	DefaultCursorPollInterval = 1000 * time.Millisecond
	DefaultFinalFlushTimeout  = 2 * time.Second
)

// Run modes accepted by the authority.
const (
	ModeAnyPercent     = "any%"
	ModeHundredPercent = "100%"
)

// Origin selects which authority a transport talks to.
type Origin string

// Known origins.
const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Span replaces the runes in [From, To) with Insert.
// Offsets are counted in runes.
type Span struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	Insert string `json:"insert"`
}

// Move is one logical editing event.
// Changes is nil for cursor-only moves.
type Move struct {
	MoveID  int   `json:"moveId"`
	Latency int64 `json:"latency"`
	Cursor  int   `json:"cursor"`
	Changes *Span `json:"changes,omitempty"`
}

// Run identifies one synchronization session.
type Run struct {
	ID        string
	Problem   string
	Mode      string
	StartedAt time.Time
}

// Document is a snapshot of the editor's active document.
type Document struct {
	Name     string // File name, used as batch context
	Language string // Language identifier, used as batch context
	Text     string // Full text
	Cursor   int    // Cursor offset in runes
}

// Editor is the host editor capability the engine samples from.
type Editor interface {
	// Active returns the active document, or false when none is open.
	Active() (Document, bool)
}

// Notifier is optionally implemented by editors that push change
// notifications. Each receive triggers an immediate text sample.
type Notifier interface {
	Changes() <-chan struct{}
}

// Client performs the run operations against an authority.
type Client interface {
	CreateRun(ctx context.Context, problem, category string) (string, error)
	SubmitRun(ctx context.Context, runID string) error
	SendMoves(ctx context.Context, req MoveRequest) error
}

// TextSource is implemented by clients able to fetch the authoritative
// text of a run. Reconciliation only runs against a TextSource.
type TextSource interface {
	GetText(ctx context.Context, runID string) (string, error)
}

// CredentialProvider supplies the credential used to authenticate.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}
