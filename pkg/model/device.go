package model

import (
	"database/sql"
	"fmt"
	"time"
)

// DeviceStatus is the registry trust state of a device.
type DeviceStatus uint8

const (
	// StatusPending awaits operator approval. Initial state for all
	// self-registered devices.
	StatusPending DeviceStatus = iota

	// StatusApproved may publish telemetry/register/health and subscribe to
	// its command topic.
	StatusApproved

	// StatusRejected was denied by an operator.
	StatusRejected

	// StatusBlocked was shut out, either by an operator or automatically by
	// clone detection. Only an operator action moves it back to APPROVED.
	StatusBlocked
)

// String returns the persisted form of the status.
func (s DeviceStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusApproved:
		return "APPROVED"
	case StatusRejected:
		return "REJECTED"
	case StatusBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// ParseDeviceStatus converts a persisted status string back to its variant.
func ParseDeviceStatus(s string) (DeviceStatus, error) {
	switch s {
	case "PENDING":
		return StatusPending, nil
	case "APPROVED":
		return StatusApproved, nil
	case "REJECTED":
		return StatusRejected, nil
	case "BLOCKED":
		return StatusBlocked, nil
	default:
		return StatusPending, fmt.Errorf("unknown device status %q", s)
	}
}

// DeviceType identifies the kind of physical unit.
type DeviceType string

// Recognized device types.
const (
	TypeTempSensor   DeviceType = "TEMP_SENSOR"
	TypeSmartPlug    DeviceType = "SMART_PLUG"
	TypeEnergySensor DeviceType = "ENERGY_SENSOR"
	TypeSmartSwitch  DeviceType = "SMART_SWITCH"
)

// ValidDeviceType reports whether t is one of the recognized types.
func ValidDeviceType(t DeviceType) bool {
	switch t {
	case TypeTempSensor, TypeSmartPlug, TypeEnergySensor, TypeSmartSwitch:
		return true
	}
	return false
}

// Actuator reports whether the type accepts commands. Actuators publish
// telemetry at QoS 1, sensors at QoS 0.
func (t DeviceType) Actuator() bool {
	return t == TypeSmartPlug || t == TypeSmartSwitch
}

// Device is one physical unit known to the registry. Identity is stored as
// one-way hashes only; the composite hash is the unique key.
type Device struct {
	ID              int64          `db:"id"`
	DeviceType      DeviceType     `db:"device_type"`
	SerialHash      string         `db:"serial_hash"`
	MACHash         string         `db:"mac_hash"`
	CompositeHash   string         `db:"composite_hash"`
	StatusRaw       string         `db:"status"`
	Critical        bool           `db:"is_critical"`
	RegisteredAt    time.Time      `db:"registered_at"`
	ApprovedAt      sql.NullTime   `db:"approved_at"`
	ApprovedBy      sql.NullString `db:"approved_by"`
	LastHealthCheck sql.NullTime   `db:"last_health_check"`
}

// Status returns the tagged status variant; unknown persisted values map to
// PENDING, the most restrictive state short of BLOCKED.
func (d *Device) Status() DeviceStatus {
	s, err := ParseDeviceStatus(d.StatusRaw)
	if err != nil {
		return StatusPending
	}
	return s
}
