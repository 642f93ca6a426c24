package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors protocol events into an slog.Logger. Every event is
// one record named "protocol" at debug level, so a handler above debug
// drops them without formatting.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter returns an adapter writing to logger at debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy of the adapter that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event as a single structured record.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	if !a.logger.Enabled(ctx, a.level) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("conn_id", event.ConnectionID),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	)
	if event.Category != CategoryState {
		attrs = append(attrs, slog.String("direction", event.Direction.String()))
	}
	if event.DeviceIndex != nil {
		attrs = append(attrs, slog.Uint64("device", uint64(*event.DeviceIndex)))
	}
	attrs = append(attrs, payloadAttrs(event)...)

	a.logger.LogAttrs(ctx, a.level, "protocol", attrs...)
}

// payloadAttrs groups the fields of whichever payload the event carries.
func payloadAttrs(event Event) []slog.Attr {
	switch {
	case event.Message != nil:
		m := event.Message
		args := []any{
			slog.String("type", m.Type.String()),
			slog.String("name", m.Name),
			slog.Uint64("id", uint64(m.MessageID)),
		}
		if m.ErrorCode != nil {
			args = append(args, slog.String("error_code", m.ErrorCode.String()))
		}
		if m.RoundTrip != nil {
			args = append(args, slog.Duration("round_trip", *m.RoundTrip))
		}
		return []slog.Attr{slog.Group("message", args...)}

	case event.Frame != nil:
		return []slog.Attr{slog.Group("frame",
			slog.Int("size", event.Frame.Size),
			slog.Bool("final", event.Frame.Final),
			slog.Bool("truncated", event.Frame.Truncated),
		)}

	case event.StateChange != nil:
		s := event.StateChange
		args := []any{
			slog.String("entity", s.Entity.String()),
			slog.String("to", s.NewState),
		}
		if s.OldState != "" {
			args = append(args, slog.String("from", s.OldState))
		}
		if s.Reason != "" {
			args = append(args, slog.String("reason", s.Reason))
		}
		return []slog.Attr{slog.Group("state", args...)}

	case event.ControlMsg != nil:
		args := []any{slog.String("type", event.ControlMsg.Type.String())}
		if event.ControlMsg.Latency != nil {
			args = append(args, slog.Duration("latency", *event.ControlMsg.Latency))
		}
		return []slog.Attr{slog.Group("ctrl", args...)}

	case event.Error != nil:
		e := event.Error
		args := []any{
			slog.String("layer", e.Layer.String()),
			slog.String("message", e.Message),
		}
		if e.Context != "" {
			args = append(args, slog.String("context", e.Context))
		}
		if e.Code != nil {
			args = append(args, slog.Int("code", *e.Code))
		}
		return []slog.Attr{slog.Group("error", args...)}
	}
	return nil
}

var _ Logger = (*SlogAdapter)(nil)
