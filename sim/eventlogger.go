package sim

import (
	"context"
	"log/slog"
	"reflect"
)

// LogHookBase provides the common logic for all hooks that write to a
// structured logger.
type LogHookBase struct {
	Logger *slog.Logger
}

// EventLogger is an hook that logs every event that the engine dispatches.
type EventLogger struct {
	LogHookBase
	Level slog.Level
}

// NewEventLogger returns a new EventLogger which will write in to the logger
// at debug level.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}

	h := new(EventLogger)
	h.Logger = logger
	h.Level = slog.LevelDebug
	return h
}

// Func writes the event information into the logger
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	if !h.Logger.Enabled(context.Background(), h.Level) {
		return
	}

	attrs := []slog.Attr{
		slog.Float64("time", float64(evt.Time())),
		slog.String("event", reflect.TypeOf(evt).String()),
	}

	if named, ok := evt.Handler().(Named); ok {
		attrs = append(attrs, slog.String("handler", named.Name()))
	}

	h.Logger.LogAttrs(context.Background(), h.Level, "dispatch", attrs...)
}
