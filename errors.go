package devrun

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Transport errors.
var (
	// ErrConnection reports a channel that is not open, closed mid-call,
	// or failed to open.
	ErrConnection = errors.New("connection error")
	// ErrAuthMissing reports that no credential was available to open a connection.
	ErrAuthMissing = errors.New("authentication credential missing")
	// ErrRequestTimeout reports that no matching response arrived in time.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrProtocol reports an unparseable frame or one without a request id.
	ErrProtocol = errors.New("protocol error")
)

// Session errors.
var (
	ErrNoRun          = errors.New("no active run")
	ErrRunActive      = errors.New("a run is already active")
	ErrInvalidProblem = errors.New("problem id must only contain '-' and alphanumeric characters")
	ErrInvalidMode    = errors.New("unknown run mode")
	ErrNotSupported   = errors.New("operation not supported by client")
)

// ServerError is the rejection value of a call the authority answered
// with ok:false. Payload is opaque to the engine.
type ServerError struct {
	Status  int             // HTTP status, zero for streamed calls
	Payload json.RawMessage // Server supplied error value
}

func (e *ServerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("server error (%d): %s", e.Status, e.Message())
	}
	return fmt.Sprintf("server error: %s", e.Message())
}

// Message returns the payload as text. String payloads are unquoted.
func (e *ServerError) Message() string {
	if len(e.Payload) == 0 {
		return "unknown"
	}
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	return string(e.Payload)
}
