package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/homehub-iot/hubcore/pkg/model"
)

// Store errors.
var (
	// ErrNotFound reports a lookup that matched no row.
	ErrNotFound = errors.New("registry: not found")
)

// Store provides sqlite persistence for the device registry.
// Methods are safe for concurrent use; the driver serializes writers and
// every call runs on its own short-lived statement, never a held
// transaction.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (or creates) the registry database at path and initializes the
// schema. Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Immediate tx lock so status transitions take the write lock up front,
	// foreign keys on, busy timeout instead of immediate SQLITE_BUSY.
	dsn := path + "?_fk=1&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	// An in-memory database exists per connection; pin the pool to one so
	// every caller sees the same schema.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize registry schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		// Re-running bootstrap against an existing database is fine.
		if isIgnorableBootstrapError(err) {
			s.logger.Debug("schema bootstrap skipped existing objects", "err", err)
			return nil
		}
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation matches the driver's typed unique-constraint code.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isIgnorableBootstrapError(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint || serr.Code == sqlite3.ErrError
	}
	return false
}

// ---- devices ----

// InsertDevice inserts a new device row and fills in its id.
func (s *Store) InsertDevice(d *model.Device) error {
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = time.Now()
	}
	if d.StatusRaw == "" {
		d.StatusRaw = model.StatusPending.String()
	}
	res, err := s.db.Exec(
		`INSERT INTO devices (device_type, serial_hash, mac_hash, composite_hash, status, is_critical, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.DeviceType, d.SerialHash, d.MACHash, d.CompositeHash, d.StatusRaw, d.Critical, d.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert device id: %w", err)
	}
	return nil
}

// UpsertDeviceIfAbsent inserts d unless a device with the same composite
// hash already exists, in which case the existing row is returned. A race
// losing the insert falls back to the winner's row.
func (s *Store) UpsertDeviceIfAbsent(d *model.Device) (*model.Device, error) {
	existing, err := s.FindByCompositeHash(d.CompositeHash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := s.InsertDevice(d); err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug("device insert lost race, returning existing row",
				"composite_hash", d.CompositeHash)
			return s.FindByCompositeHash(d.CompositeHash)
		}
		return nil, err
	}
	return d, nil
}

func (s *Store) getDevice(query string, arg any) (*model.Device, error) {
	var d model.Device
	if err := s.db.Get(&d, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query device: %w", err)
	}
	return &d, nil
}

// FindByCompositeHash looks a device up by its unique registry key.
func (s *Store) FindByCompositeHash(hash string) (*model.Device, error) {
	return s.getDevice(`SELECT * FROM devices WHERE composite_hash = ?`, hash)
}

// FindBySerialHash returns the first device with the given serial hash.
func (s *Store) FindBySerialHash(hash string) (*model.Device, error) {
	return s.getDevice(`SELECT * FROM devices WHERE serial_hash = ? ORDER BY id LIMIT 1`, hash)
}

// FindByID looks a device up by internal id.
func (s *Store) FindByID(id int64) (*model.Device, error) {
	return s.getDevice(`SELECT * FROM devices WHERE id = ?`, id)
}

// FindByStatus returns all devices in the given state.
func (s *Store) FindByStatus(status model.DeviceStatus) ([]model.Device, error) {
	var out []model.Device
	if err := s.db.Select(&out, `SELECT * FROM devices WHERE status = ? ORDER BY id`, status.String()); err != nil {
		return nil, fmt.Errorf("query devices by status: %w", err)
	}
	return out, nil
}

// FindAllDevices returns every registered device.
func (s *Store) FindAllDevices() ([]model.Device, error) {
	var out []model.Device
	if err := s.db.Select(&out, `SELECT * FROM devices ORDER BY id`); err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	return out, nil
}

// UpdateStatus transitions a device's trust state under a row-exclusive
// write transaction. The audit alert is the caller's responsibility so that
// it carries the caller's context. Returns ErrNotFound for unknown ids.
func (s *Store) UpdateStatus(deviceID int64, status model.DeviceStatus, actor string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin status transition: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.Get(&current, `SELECT status FROM devices WHERE id = ?`, deviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock device row: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE devices SET status = ?, approved_at = ?, approved_by = ? WHERE id = ?`,
		status.String(), time.Now(), actor, deviceID,
	); err != nil {
		return fmt.Errorf("update device status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status transition: %w", err)
	}
	s.logger.Info("device status updated",
		"device_id", deviceID, "from", current, "to", status.String(), "actor", actor)
	return nil
}

// MarkCritical flags a device as critical for clone handling.
func (s *Store) MarkCritical(deviceID int64) error {
	res, err := s.db.Exec(`UPDATE devices SET is_critical = 1 WHERE id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("mark device critical: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastHealthCheck stamps the device's health-check wallclock.
// Idempotent; stamping an unknown id is a no-op error.
func (s *Store) UpdateLastHealthCheck(deviceID int64) error {
	res, err := s.db.Exec(`UPDATE devices SET last_health_check = ? WHERE id = ?`, time.Now(), deviceID)
	if err != nil {
		return fmt.Errorf("update last health check: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- connections ----

// CreateConnection records a new active session for a device.
func (s *Store) CreateConnection(c *model.Connection) error {
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO device_connections (device_id, connected_at, ip_address, client_info)
		 VALUES (?, ?, ?, ?)`,
		c.DeviceID, c.ConnectedAt, c.IPAddress, c.ClientInfo,
	)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create connection id: %w", err)
	}
	return nil
}

// CloseConnection marks a session as disconnected. Closing an already
// closed or unknown session is tolerated.
func (s *Store) CloseConnection(id int64) error {
	_, err := s.db.Exec(
		`UPDATE device_connections SET disconnected_at = ? WHERE id = ? AND disconnected_at IS NULL`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}

// CloseAllForDevice closes every active session of a device.
func (s *Store) CloseAllForDevice(deviceID int64) error {
	_, err := s.db.Exec(
		`UPDATE device_connections SET disconnected_at = ? WHERE device_id = ? AND disconnected_at IS NULL`,
		time.Now(), deviceID,
	)
	if err != nil {
		return fmt.Errorf("close device connections: %w", err)
	}
	return nil
}

// FindActiveByDeviceID returns the device's active session, if any.
func (s *Store) FindActiveByDeviceID(deviceID int64) (*model.Connection, error) {
	var c model.Connection
	err := s.db.Get(&c,
		`SELECT * FROM device_connections WHERE device_id = ? AND disconnected_at IS NULL ORDER BY id DESC LIMIT 1`,
		deviceID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query active connection: %w", err)
	}
	return &c, nil
}

// FindActiveConnections returns all open sessions.
func (s *Store) FindActiveConnections() ([]model.Connection, error) {
	var out []model.Connection
	if err := s.db.Select(&out,
		`SELECT * FROM device_connections WHERE disconnected_at IS NULL ORDER BY id`); err != nil {
		return nil, fmt.Errorf("query active connections: %w", err)
	}
	return out, nil
}

// ---- alerts ----

// InsertAlert appends a security alert row.
func (s *Store) InsertAlert(a *model.Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO security_alerts (alert_type, device_serial_hash, details, created_at)
		 VALUES (?, ?, ?, ?)`,
		a.AlertType, a.DeviceSerialHash, a.Details, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// FindAlertsByType returns alerts of one type, newest first.
func (s *Store) FindAlertsByType(t model.AlertType) ([]model.Alert, error) {
	var out []model.Alert
	if err := s.db.Select(&out,
		`SELECT * FROM security_alerts WHERE alert_type = ? ORDER BY id DESC`, t); err != nil {
		return nil, fmt.Errorf("query alerts by type: %w", err)
	}
	return out, nil
}

// FindAlertsBySerialHash returns a device's alerts, newest first.
func (s *Store) FindAlertsBySerialHash(hash string) ([]model.Alert, error) {
	var out []model.Alert
	if err := s.db.Select(&out,
		`SELECT * FROM security_alerts WHERE device_serial_hash = ? ORDER BY id DESC`, hash); err != nil {
		return nil, fmt.Errorf("query alerts by serial hash: %w", err)
	}
	return out, nil
}

// FindAllAlerts returns every alert, newest first.
func (s *Store) FindAllAlerts() ([]model.Alert, error) {
	var out []model.Alert
	if err := s.db.Select(&out, `SELECT * FROM security_alerts ORDER BY id DESC`); err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	return out, nil
}

// ---- telemetry ----

// InsertTelemetry appends a telemetry row.
func (s *Store) InsertTelemetry(t *model.Telemetry) error {
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO telemetry (device_id, received_at, topic, ts, measurement, metric_value, payload_raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.DeviceID, t.ReceivedAt, t.Topic, t.Ts, t.Measurement, t.MetricValue, t.PayloadRaw,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// CountTelemetryForDevice returns the number of stored rows for a device.
func (s *Store) CountTelemetryForDevice(deviceID int64) (int64, error) {
	var n int64
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM telemetry WHERE device_id = ?`, deviceID); err != nil {
		return 0, fmt.Errorf("count telemetry: %w", err)
	}
	return n, nil
}

// ---- client bindings and audit ----

// InsertBinding persists a pairing-produced client binding.
func (s *Store) InsertBinding(b *model.ClientBinding) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO client_bindings (uuid, fingerprint, role, created_at) VALUES (?, ?, ?, ?)`,
		b.UUID, b.Fingerprint, b.Role, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert client binding: %w", err)
	}
	b.ID, _ = res.LastInsertId()
	return nil
}

// FindBindingByUUID looks a binding up by its external UUID.
func (s *Store) FindBindingByUUID(id string) (*model.ClientBinding, error) {
	var b model.ClientBinding
	if err := s.db.Get(&b, `SELECT * FROM client_bindings WHERE uuid = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query client binding: %w", err)
	}
	return &b, nil
}

// TouchBinding stamps a binding's last-seen wallclock.
func (s *Store) TouchBinding(id string) error {
	_, err := s.db.Exec(`UPDATE client_bindings SET last_seen_at = ? WHERE uuid = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("touch client binding: %w", err)
	}
	return nil
}

// InsertAudit appends an audit row.
func (s *Store) InsertAudit(a *model.AuditLog) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO audit_logs (event_type, subject, details, created_at) VALUES (?, ?, ?, ?)`,
		a.EventType, a.Subject, a.Details, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}
