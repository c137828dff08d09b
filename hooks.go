package devrun

import "github.com/zoobzio/capitan"

// Signals for hook events.
const (
	RunStarted = capitan.Signal("devrun.run.started")
	RunStopped = capitan.Signal("devrun.run.stopped")

	MoveCaptured     = capitan.Signal("devrun.move.captured")
	DocumentSwitched = capitan.Signal("devrun.document.switched")

	FlushStarted   = capitan.Signal("devrun.batch.flush.started")
	FlushCompleted = capitan.Signal("devrun.batch.flush.completed")
	FlushFailed    = capitan.Signal("devrun.batch.flush.failed")
	FlushDropped   = capitan.Signal("devrun.batch.flush.dropped")

	Connecting   = capitan.Signal("devrun.rpc.connecting")
	Connected    = capitan.Signal("devrun.rpc.connected")
	Disconnected = capitan.Signal("devrun.rpc.disconnected")

	RequestStarted   = capitan.Signal("devrun.rpc.request.started")
	RequestCompleted = capitan.Signal("devrun.rpc.request.completed")
	RequestFailed    = capitan.Signal("devrun.rpc.request.failed")
	FrameDropped     = capitan.Signal("devrun.rpc.frame.dropped")

	ReconcileChecked   = capitan.Signal("devrun.reconcile.checked")
	ReconcileCorrected = capitan.Signal("devrun.reconcile.corrected")
	ReconcileFailed    = capitan.Signal("devrun.reconcile.failed")
)

// Keys for hook event fields.
var (
	// Run identification.
	RunIDKey   = capitan.NewStringKey("devrun.run.id")
	ProblemKey = capitan.NewStringKey("devrun.run.problem")
	ModeKey    = capitan.NewStringKey("devrun.run.mode")

	// Move data.
	MoveIDKey    = capitan.NewIntKey("devrun.move.id")
	LatencyKey   = capitan.NewIntKey("devrun.move.latency")
	CursorKey    = capitan.NewIntKey("devrun.move.cursor")
	MoveCountKey = capitan.NewIntKey("devrun.batch.moves")
	FileKey      = capitan.NewStringKey("devrun.batch.file")
	LanguageKey  = capitan.NewStringKey("devrun.batch.language")

	// Request data.
	RequestIDKey   = capitan.NewStringKey("devrun.request.id")
	RequestTypeKey = capitan.NewStringKey("devrun.request.type")
	OriginKey      = capitan.NewStringKey("devrun.origin")
	DurationMsKey  = capitan.NewIntKey("devrun.duration.ms")
	HTTPStatusKey  = capitan.NewIntKey("devrun.http.status.code")

	// Reconciliation data.
	LocalLengthKey  = capitan.NewIntKey("devrun.text.local.length")
	ServerLengthKey = capitan.NewIntKey("devrun.text.server.length")

	// Error information.
	ErrorKey = capitan.NewStringKey("devrun.error")
)
