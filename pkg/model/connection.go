package model

import (
	"database/sql"
	"time"
)

// Connection is a single broker session for a device. A null DisconnectedAt
// marks the session active; at most one active row exists per device.
type Connection struct {
	ID             int64        `db:"id"`
	DeviceID       int64        `db:"device_id"`
	ConnectedAt    time.Time    `db:"connected_at"`
	DisconnectedAt sql.NullTime `db:"disconnected_at"`
	IPAddress      string       `db:"ip_address"`
	ClientInfo     string       `db:"client_info"`
}

// Active reports whether the session is still open.
func (c *Connection) Active() bool {
	return !c.DisconnectedAt.Valid
}
