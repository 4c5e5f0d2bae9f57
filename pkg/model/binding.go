package model

import (
	"database/sql"
	"time"
)

// ClientBinding maps an external client UUID to a certificate fingerprint
// and role. Written by the pairing surface; the core only persists it.
type ClientBinding struct {
	ID          int64        `db:"id"`
	UUID        string       `db:"uuid"`
	Fingerprint string       `db:"fingerprint"`
	Role        string       `db:"role"`
	CreatedAt   time.Time    `db:"created_at"`
	LastSeenAt  sql.NullTime `db:"last_seen_at"`
}

// AuditLog is an append-only admin action record.
type AuditLog struct {
	ID        int64     `db:"id"`
	EventType string    `db:"event_type"`
	Subject   string    `db:"subject"`
	Details   string    `db:"details"`
	CreatedAt time.Time `db:"created_at"`
}
