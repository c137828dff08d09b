package devrun

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zoobzio/capitan"
)

type eventKey[V any] interface {
	From(e *capitan.Event) (V, bool)
}

type attrFunc func(e *capitan.Event) (slog.Attr, bool)

func attr[V any](name string, key eventKey[V]) attrFunc {
	return func(e *capitan.Event) (slog.Attr, bool) {
		v, ok := key.From(e)
		if !ok {
			return slog.Attr{}, false
		}
		return slog.Any(name, v), true
	}
}

var logAttrs = []attrFunc{
	attr[string]("run", RunIDKey),
	attr[string]("problem", ProblemKey),
	attr[string]("mode", ModeKey),
	attr[string]("file", FileKey),
	attr[string]("language", LanguageKey),
	attr[string]("request", RequestIDKey),
	attr[string]("type", RequestTypeKey),
	attr[string]("origin", OriginKey),
	attr[int]("move", MoveIDKey),
	attr[int]("latency", LatencyKey),
	attr[int]("cursor", CursorKey),
	attr[int]("moves", MoveCountKey),
	attr[int]("duration_ms", DurationMsKey),
	attr[int]("status", HTTPStatusKey),
	attr[int]("local_len", LocalLengthKey),
	attr[int]("server_len", ServerLengthKey),
	attr[string]("err", ErrorKey),
}

// LogEvents returns an observer forwarding devrun events to logger.
// Failures are logged at error level, captured moves at debug level.
//
//	listener := capitan.Observe(devrun.LogEvents(slog.Default()))
//	defer listener.Close()
func LogEvents(logger *slog.Logger) func(context.Context, *capitan.Event) {
	return func(ctx context.Context, e *capitan.Event) {
		signal := string(e.Signal())
		if !strings.HasPrefix(signal, "devrun.") {
			return
		}

		level := slog.LevelInfo
		switch {
		case strings.HasSuffix(signal, ".failed"):
			level = slog.LevelError
		case e.Signal() == MoveCaptured, e.Signal() == FrameDropped, e.Signal() == FlushDropped:
			level = slog.LevelDebug
		}

		attrs := make([]slog.Attr, 0, 4)
		for _, fn := range logAttrs {
			if a, ok := fn(e); ok {
				attrs = append(attrs, a)
			}
		}
		logger.LogAttrs(ctx, level, signal, attrs...)
	}
}
