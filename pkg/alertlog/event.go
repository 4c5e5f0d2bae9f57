package alertlog

import (
	"time"

	"github.com/homehub-iot/hubcore/pkg/model"
)

// Event is one captured security event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// Type is the alert tag, shared with the registry's alert rows.
	Type model.AlertType `cbor:"2,keyasint"`

	// SerialHash identifies the device, when one is known.
	SerialHash string `cbor:"3,keyasint,omitempty"`

	// ClientID is the MQTT client identifier that triggered the event.
	ClientID string `cbor:"4,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port), when known.
	RemoteAddr string `cbor:"5,keyasint,omitempty"`

	// Topic is the MQTT topic involved, when the event concerns one.
	Topic string `cbor:"6,keyasint,omitempty"`

	// Details carries event-specific key/value context.
	Details map[string]any `cbor:"7,keyasint,omitempty"`
}

// Recorder is the interface sinks implement to receive security events.
// Pass nil or NoopRecorder to disable capture.
type Recorder interface {
	// Record captures an event. Implementations must be safe for concurrent
	// use and should return quickly; blocking stalls the caller.
	Record(event Event)
}

// NoopRecorder discards all events. Safe for concurrent use and usable as a
// zero value.
type NoopRecorder struct{}

// Record discards the event.
func (NoopRecorder) Record(Event) {}

// Compile-time interface satisfaction check.
var _ Recorder = NoopRecorder{}

// Multi fans an event out to several recorders in order.
type Multi []Recorder

// Record forwards the event to every recorder.
func (m Multi) Record(event Event) {
	for _, r := range m {
		r.Record(event)
	}
}

var _ Recorder = Multi{}
