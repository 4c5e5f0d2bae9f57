package model

import "time"

// AlertType tags a security alert row. The set is open-ended at the
// persistence layer but the core only emits the constants below.
type AlertType string

// Alert types emitted by the core.
const (
	AlertDeviceRegistration AlertType = "DEVICE_REGISTRATION"
	AlertRegistrationError  AlertType = "REGISTRATION_ERROR"
	AlertHealthCheckError   AlertType = "HEALTH_CHECK_ERROR"
	AlertInvalidMACFormat   AlertType = "INVALID_MAC_FORMAT"
	AlertDeviceNotFound     AlertType = "DEVICE_NOT_FOUND"
	AlertMACMismatch        AlertType = "MAC_MISMATCH"
	AlertTimeDrift          AlertType = "TIME_DRIFT"
	AlertInvalidTimestamp   AlertType = "INVALID_TIMESTAMP"
	AlertHealthRejBlocked   AlertType = "HEALTH_CHECK_REJECTED_BLOCKED"
	AlertHealthRejNoConn    AlertType = "HEALTH_CHECK_REJECTED_NO_CONNECTION"
	AlertConnectionError    AlertType = "CONNECTION_ERROR"

	AlertDeviceReconnection AlertType = "DEVICE_RECONNECTION"
	AlertCriticalCloneTry   AlertType = "CRITICAL_DEVICE_CLONE_ATTEMPT"
	AlertCloneDetected      AlertType = "DEVICE_CLONE_DETECTED"

	AlertDeviceOffline AlertType = "DEVICE_OFFLINE"

	AlertDeviceApproved       AlertType = "DEVICE_APPROVED"
	AlertDeviceRejected       AlertType = "DEVICE_REJECTED"
	AlertDeviceUnblocked      AlertType = "DEVICE_UNBLOCKED"
	AlertDeviceMarkedCritical AlertType = "DEVICE_MARKED_CRITICAL"

	AlertUnauthorizedPublish   AlertType = "UNAUTHORIZED_PUBLISH"
	AlertUnauthorizedSubscribe AlertType = "UNAUTHORIZED_SUBSCRIBE"
)

// Alert is an append-only security event. DeviceSerialHash carries the
// client identifier when no registered device is known.
type Alert struct {
	ID               int64     `db:"id"`
	AlertType        AlertType `db:"alert_type"`
	DeviceSerialHash string    `db:"device_serial_hash"`
	Details          string    `db:"details"`
	CreatedAt        time.Time `db:"created_at"`
}
