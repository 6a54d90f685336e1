// logging.go wires the loop, the async writer, and the adapters to a real
// structured logging facade instead of hand-rolled entry formatting. The
// facade is github.com/joeycumines/logiface (a generic, fluent Logger/Event
// API); the default sink is github.com/joeycumines/logiface-slog, which
// adapts a log/slog.Handler for use as a logiface backend.
package mio

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// Event is the concrete event type threaded through every logiface.Logger
// used by this package. logiface is generic over the event representation;
// islog.NewLogger already binds *islog.Event for us, so components that
// need to hold a logger reference use this alias rather than repeating the
// generic instantiation at every call site.
type Event = islog.Event

// Logger is the structured logger type accepted by WithLogger and
// WithWriterLogger. A nil *Logger is valid
// everywhere it's accepted and behaves as a no-op, per logiface's own
// null-object pattern (a Logger with no configured writer simply drops
// every event below Disabled).
type Logger = logiface.Logger[*Event]

// NewDefaultLogger returns a Logger backed by a JSON slog.Handler writing
// to os.Stderr at the given minimum level. A Loop uses it only when it is
// passed via WithLogger; with no logger supplied, a Loop logs nothing.
func NewDefaultLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return NewLoggerFromHandler(handler)
}

// NewLoggerFromHandler adapts an arbitrary slog.Handler (JSON, text,
// or a third-party handler implementing slog.Handler) into a *Logger.
func NewLoggerFromHandler(handler slog.Handler) *Logger {
	return logiface.New[*Event](islog.NewLogger(handler))
}

// NewNoopLogger returns a Logger that discards everything. Useful as an
// explicit choice distinct from "caller forgot to configure logging".
func NewNoopLogger() *Logger {
	return logiface.New[*Event]()
}

// resolveLogger returns l if non-nil, otherwise a package-wide noop
// singleton, so internal call sites never need a nil check before logging.
func resolveLogger(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return noopLogger
}

var noopLogger = NewNoopLogger()

// logTimerScheduled logs timer registration at debug level.
func logTimerScheduled(l *Logger, loopID, timerID int64, delayMS int64) {
	resolveLogger(l).Debug().Int64("loop", loopID).Int64("timer", timerID).Int64("delay_ms", delayMS).Log("timer scheduled")
}

// logTimerFired logs timer firing at debug level.
func logTimerFired(l *Logger, loopID, timerID int64) {
	resolveLogger(l).Debug().Int64("loop", loopID).Int64("timer", timerID).Log("timer fired")
}

// logTimerCanceled logs timer cancellation at debug level.
func logTimerCanceled(l *Logger, loopID, timerID int64) {
	resolveLogger(l).Debug().Int64("loop", loopID).Int64("timer", timerID).Log("timer canceled")
}

// logCallbackPanic logs a recovered panic from user callback code.
func logCallbackPanic(l *Logger, loopID int64, objectID uint64, err error) {
	if e := resolveLogger(l).Err(); e.Enabled() {
		e.Err(err).Int64("loop", loopID).Int64("object", int64(objectID)).Log("callback panicked")
	}
}

// logPollError logs a poller-level error, critical ones at error level and
// transient ones at warning level.
func logPollError(l *Logger, loopID int64, err error, critical bool) {
	rl := resolveLogger(l)
	if critical {
		if e := rl.Err(); e.Enabled() {
			e.Err(err).Int64("loop", loopID).Log("poll error")
		}
		return
	}
	if e := rl.Warning(); e.Enabled() {
		e.Err(err).Int64("loop", loopID).Log("poll error (transient)")
	}
}

// logWriterDropped logs that the async writer dropped a queued write due
// to backpressure (drop-oldest policy).
func logWriterDropped(l *Logger, writerID int64, droppedBytes int) {
	if e := resolveLogger(l).Warning(); e.Enabled() {
		e.Int64("writer", writerID).Int("dropped_bytes", droppedBytes).Log("async writer dropped queued data")
	}
}

// logObjectDestroyed logs I/O object teardown at debug level.
func logObjectDestroyed(l *Logger, objectID uint64, reason string) {
	resolveLogger(l).Debug().Int64("object", int64(objectID)).Str("reason", reason).Log("object destroyed")
}
