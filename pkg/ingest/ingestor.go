package ingest

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/homehub-iot/hubcore/pkg/auth"
	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
)

// MaxPayloadBytes is the hard cap on a single telemetry payload.
const MaxPayloadBytes = 512 * 1024

var (
	// ErrPayloadTooLarge is returned for payloads over MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("telemetry payload too large")

	// ErrPayloadNotUTF8 is returned for payloads that are not valid UTF-8.
	ErrPayloadNotUTF8 = errors.New("telemetry payload not valid UTF-8")

	// ErrNotTelemetryTopic is returned when the topic does not match the
	// device telemetry grammar.
	ErrNotTelemetryTopic = errors.New("not a telemetry topic")

	// ErrUnknownDevice is returned when the topic serial has no registry row.
	ErrUnknownDevice = errors.New("telemetry from unknown device")
)

// payload is the JSON shape devices send. All fields are optional on the
// wire; whatever cannot be parsed is left null on the row.
type payload struct {
	Serial      string  `json:"serial"`
	Timestamp   string  `json:"timestamp"`
	Measurement string  `json:"measurement"`
	Value       float64 `json:"value"`

	hasValue bool
}

// timestampLayouts are tried in order when parsing the device timestamp.
// Devices without a zone clock send a local ISO timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Ingestor validates and persists telemetry publishes.
type Ingestor struct {
	store  *registry.Store
	logger *slog.Logger
}

// NewIngestor creates an ingestor over the given store.
func NewIngestor(store *registry.Store, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, logger: logger}
}

// Process handles one telemetry publish. The raw payload is stored verbatim
// whenever a row is written; parse failures only degrade the structured
// columns, never drop the row.
func (in *Ingestor) Process(topic string, body []byte) error {
	if len(body) > MaxPayloadBytes {
		in.logger.Warn("telemetry payload over size cap",
			"topic", topic, "size", len(body))
		return ErrPayloadTooLarge
	}
	if !utf8.Valid(body) {
		in.logger.Warn("telemetry payload not UTF-8", "topic", topic)
		return ErrPayloadNotUTF8
	}

	dt, ok := auth.ParseDeviceTopic(topic)
	if !ok || dt.Tail != auth.TailTelemetry {
		return ErrNotTelemetryTopic
	}

	device, err := in.store.FindBySerialHash(identity.Hash(dt.Serial))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			in.logger.Warn("telemetry from unregistered device",
				"topic", topic, "serial_hash", identity.Hash(dt.Serial))
			return ErrUnknownDevice
		}
		return fmt.Errorf("resolve telemetry device: %w", err)
	}

	row := &model.Telemetry{
		DeviceID:   device.ID,
		ReceivedAt: time.Now(),
		Topic:      topic,
		PayloadRaw: string(body),
	}
	fillStructured(row, body)

	if err := in.store.InsertTelemetry(row); err != nil {
		return fmt.Errorf("persist telemetry: %w", err)
	}

	in.logger.Debug("telemetry stored",
		"device_id", device.ID, "topic", topic,
		"measurement", row.Measurement.String)
	return nil
}

// fillStructured extracts the optional structured columns from a JSON body.
func fillStructured(row *model.Telemetry, body []byte) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return
	}

	var p payload
	if m, ok := raw["measurement"]; ok {
		_ = json.Unmarshal(m, &p.Measurement)
	}
	if v, ok := raw["value"]; ok {
		if json.Unmarshal(v, &p.Value) == nil {
			p.hasValue = true
		}
	}
	if t, ok := raw["timestamp"]; ok {
		_ = json.Unmarshal(t, &p.Timestamp)
	}

	if p.Measurement != "" {
		row.Measurement = sql.NullString{String: p.Measurement, Valid: true}
	}
	if p.hasValue {
		row.MetricValue = sql.NullFloat64{Float64: p.Value, Valid: true}
	}
	if ts, ok := parseTimestamp(p.Timestamp); ok {
		row.Ts = sql.NullTime{Time: ts, Valid: true}
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
