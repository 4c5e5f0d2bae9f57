package model

import (
	"database/sql"
	"time"
)

// Telemetry is one immutable measurement row. ReceivedAt is broker wallclock;
// Ts is the device-supplied timestamp when the payload carried one.
type Telemetry struct {
	ID          int64           `db:"id"`
	DeviceID    int64           `db:"device_id"`
	ReceivedAt  time.Time       `db:"received_at"`
	Topic       string          `db:"topic"`
	Ts          sql.NullTime    `db:"ts"`
	Measurement sql.NullString  `db:"measurement"`
	MetricValue sql.NullFloat64 `db:"metric_value"`
	PayloadRaw  string          `db:"payload_raw"`
}
