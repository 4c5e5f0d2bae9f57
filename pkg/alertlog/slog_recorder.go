package alertlog

import (
	"log/slog"
)

// SlogRecorder writes security events to an slog.Logger at Warn level.
// Useful for development when events should show up on the console.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a SlogRecorder writing to the given logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogRecorder{logger: logger}
}

// Record writes the event to the logger.
func (r *SlogRecorder) Record(event Event) {
	attrs := []any{
		slog.String("alert_type", string(event.Type)),
	}
	if event.SerialHash != "" {
		attrs = append(attrs, slog.String("serial_hash", event.SerialHash))
	}
	if event.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", event.ClientID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", event.RemoteAddr))
	}
	if event.Topic != "" {
		attrs = append(attrs, slog.String("topic", event.Topic))
	}
	for k, v := range event.Details {
		attrs = append(attrs, slog.Any(k, v))
	}
	r.logger.Warn("security event", attrs...)
}

// Compile-time interface satisfaction check.
var _ Recorder = (*SlogRecorder)(nil)
