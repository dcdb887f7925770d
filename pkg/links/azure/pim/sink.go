package pim

import "log/slog"

// EventSink receives lifecycle events from the engine. Sinks are fire and
// forget: the engine swallows panics so telemetry can never fail a run.
type EventSink interface {
	Record(event string, attrs map[string]any)
}

type nopSink struct{}

func (nopSink) Record(string, map[string]any) {}

// LogSink writes engine events to the default slog logger at debug level.
type LogSink struct{}

func (LogSink) Record(event string, attrs map[string]any) {
	args := make([]any, 0, len(attrs)*2)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	slog.Debug(event, args...)
}

func record(sink EventSink, event string, attrs map[string]any) {
	if sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	sink.Record(event, attrs)
}
