package registry

// Schema is created on open. Statements are idempotent; a partially
// initialized database from an earlier run is tolerated.
const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_type TEXT NOT NULL,
	serial_hash TEXT NOT NULL,
	mac_hash TEXT NOT NULL,
	composite_hash TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'PENDING',
	is_critical INTEGER NOT NULL DEFAULT 0,
	registered_at TIMESTAMP NOT NULL,
	approved_at TIMESTAMP,
	approved_by TEXT,
	last_health_check TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_devices_serial_hash ON devices(serial_hash);
CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status);

CREATE TABLE IF NOT EXISTS device_connections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id INTEGER NOT NULL REFERENCES devices(id),
	connected_at TIMESTAMP NOT NULL,
	disconnected_at TIMESTAMP,
	ip_address TEXT NOT NULL DEFAULT '',
	client_info TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_connections_active
	ON device_connections(device_id, disconnected_at);

CREATE TABLE IF NOT EXISTS security_alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_type TEXT NOT NULL,
	device_serial_hash TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_type ON security_alerts(alert_type);
CREATE INDEX IF NOT EXISTS idx_alerts_serial ON security_alerts(device_serial_hash);

CREATE TABLE IF NOT EXISTS telemetry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id INTEGER NOT NULL REFERENCES devices(id),
	received_at TIMESTAMP NOT NULL,
	topic TEXT NOT NULL,
	ts TIMESTAMP,
	measurement TEXT,
	metric_value REAL,
	payload_raw TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_telemetry_device
	ON telemetry(device_id, received_at);

CREATE TABLE IF NOT EXISTS client_bindings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	fingerprint TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_seen_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	subject TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`
