package broker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/homehub-iot/hubcore/pkg/alertlog"
	"github.com/homehub-iot/hubcore/pkg/auth"
	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/ingest"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
)

// DefaultDriftThreshold is the allowed skew between a health timestamp and
// broker wallclock before a TIME_DRIFT alert is raised.
const DefaultDriftThreshold = 5 * time.Minute

// session is the interceptor's view of one live broker client.
// deviceID and connectionID are zero until the device is known; an unknown
// device is admitted so it can self-register, and the connection row is
// back-filled once registration resolves the identity.
type session struct {
	clientID     string
	remoteAddr   string
	deviceID     int64
	connectionID int64
}

// registrationMsg is the /register payload.
type registrationMsg struct {
	Serial          string `json:"serial"`
	MAC             string `json:"mac"`
	DeviceType      string `json:"device_type"`
	FirmwareVersion string `json:"firmware_version"`
	HardwareVersion string `json:"hardware_version"`
}

// healthMsg is the /health payload. Timestamp is ISO-8601, local or zoned.
type healthMsg struct {
	Serial       string `json:"serial"`
	MAC          string `json:"mac"`
	Timestamp    string `json:"timestamp"`
	BatteryLevel *int   `json:"battery_level"`
	Uptime       *int64 `json:"uptime"`
}

// Interceptor observes broker events and drives registration, connection
// tracking, health processing and telemetry ingest. Publish handling runs
// on the worker pool; connect/disconnect handling is synchronous but only
// touches the store briefly.
type Interceptor struct {
	auth     *auth.Authenticator
	ingestor *ingest.Ingestor
	recorder alertlog.Recorder
	logger   *slog.Logger
	pool     *workerPool
	drift    time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewInterceptor creates the broker interceptor. poolSize 0 uses the
// default; driftThreshold 0 uses DefaultDriftThreshold.
func NewInterceptor(authn *auth.Authenticator, ingestor *ingest.Ingestor, recorder alertlog.Recorder, logger *slog.Logger, poolSize int, driftThreshold time.Duration) *Interceptor {
	if recorder == nil {
		recorder = alertlog.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if driftThreshold <= 0 {
		driftThreshold = DefaultDriftThreshold
	}
	in := &Interceptor{
		auth:     authn,
		ingestor: ingestor,
		recorder: recorder,
		logger:   logger,
		pool:     newWorkerPool(poolSize, logger),
		drift:    driftThreshold,
		sessions: make(map[string]*session),
	}
	in.pool.start(poolSize)
	return in
}

// Shutdown drains the publish workers.
func (in *Interceptor) Shutdown() {
	in.pool.stop()
}

// AuthorizeConnect decides whether a CONNECT may proceed. Duplicate
// detection runs here so a rejected newcomer never gets a session.
func (in *Interceptor) AuthorizeConnect(clientID, remoteAddr string) bool {
	switch identity.Classify(clientID) {
	case identity.ClassController, identity.ClassAdmin:
		return true
	case identity.ClassDevice:
	default:
		in.logger.Warn("connect with unrecognized clientId",
			"client_id", clientID, "remote_addr", remoteAddr)
		return false
	}

	parsed, err := identity.ParseClientID(clientID)
	if err != nil {
		in.connectionError(clientID, remoteAddr, "malformed clientId")
		return false
	}

	device, err := in.auth.Store().FindBySerialHash(identity.Hash(parsed.Serial))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			// Unknown devices are admitted; they are expected to register
			// and hold no rights until approved.
			return true
		}
		in.logger.Error("device lookup on connect failed",
			"client_id", clientID, "err", err)
		return false
	}

	if device.Status() == model.StatusBlocked {
		// Admitted at the session layer; the ACL denies everything.
		in.logger.Warn("blocked device connecting",
			"client_id", clientID, "device_id", device.ID)
		return true
	}

	existing, err := in.auth.Store().FindActiveByDeviceID(device.ID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return true
		}
		in.logger.Error("active connection lookup failed",
			"device_id", device.ID, "err", err)
		return false
	}

	decision, err := in.auth.HandleDuplicate(device, existing, remoteAddr)
	if err != nil {
		in.logger.Error("duplicate handling failed",
			"device_id", device.ID, "err", err)
	}
	return decision.AcceptNew()
}

// SessionEstablished records the admitted session and, when the device is
// already registered, inserts its active connection row. Blocked devices
// are tracked in memory only; they never hold an active connection row, so
// any number of their sessions cannot break the one-row-per-device
// invariant.
func (in *Interceptor) SessionEstablished(clientID, remoteAddr string) {
	if identity.Classify(clientID) != identity.ClassDevice {
		return
	}

	s := &session{clientID: clientID, remoteAddr: remoteAddr}
	if parsed, err := identity.ParseClientID(clientID); err == nil {
		if device, err := in.auth.Store().FindBySerialHash(identity.Hash(parsed.Serial)); err == nil {
			s.deviceID = device.ID
			if device.Status() != model.StatusBlocked {
				conn := &model.Connection{
					DeviceID:    device.ID,
					ConnectedAt: time.Now(),
					IPAddress:   remoteAddr,
					ClientInfo:  clientID,
				}
				if err := in.auth.Store().CreateConnection(conn); err != nil {
					in.logger.Error("create connection row",
						"device_id", device.ID, "err", err)
				} else {
					s.connectionID = conn.ID
				}
			}
		}
	}

	in.mu.Lock()
	in.sessions[clientID] = s
	in.mu.Unlock()

	in.logger.Info("session established",
		"client_id", clientID, "remote_addr", remoteAddr, "device_id", s.deviceID)
}

// SessionClosed closes the tracked connection row. Missing rows are
// tolerated; the device may never have registered.
func (in *Interceptor) SessionClosed(clientID string, cause error) {
	in.mu.Lock()
	s, ok := in.sessions[clientID]
	delete(in.sessions, clientID)
	in.mu.Unlock()

	if !ok {
		return
	}
	if s.connectionID == 0 {
		in.logger.Info("session closed without connection row",
			"client_id", clientID)
		return
	}
	if err := in.auth.Store().CloseConnection(s.connectionID); err != nil {
		in.logger.Error("close connection row",
			"client_id", clientID, "connection_id", s.connectionID, "err", err)
		return
	}
	in.logger.Info("session closed",
		"client_id", clientID, "device_id", s.deviceID, "cause", errString(cause))
}

// Published dispatches a publish to the worker pool, matched on the
// topic tail.
func (in *Interceptor) Published(clientID, topic string, payload []byte) {
	dt, ok := auth.ParseDeviceTopic(topic)
	if !ok {
		return
	}

	body := make([]byte, len(payload))
	copy(body, payload)

	switch dt.Tail {
	case auth.TailRegister:
		in.pool.submit(func() { in.processRegistration(clientID, dt.Serial, body) })
	case auth.TailHealth:
		in.pool.submit(func() { in.processHealth(clientID, body) })
	case auth.TailTelemetry:
		in.pool.submit(func() {
			if err := in.ingestor.Process(topic, body); err != nil {
				in.logger.Debug("telemetry dropped", "topic", topic, "err", err)
			}
		})
	case auth.TailOffline:
		in.logger.Info("device will delivered", "topic", topic, "client_id", clientID)
	}
}

// processRegistration handles a /register publish.
func (in *Interceptor) processRegistration(clientID, topicSerial string, body []byte) {
	var msg registrationMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		in.alert(model.AlertRegistrationError, clientID, map[string]any{
			"reason": "malformed registration payload",
		})
		return
	}
	if msg.Serial == "" || !identity.ValidMAC(msg.MAC) {
		in.alert(model.AlertInvalidMACFormat, identity.Hash(msg.Serial), map[string]any{
			"client_id": clientID,
			"mac":       msg.MAC,
		})
		return
	}
	if !model.ValidDeviceType(model.DeviceType(msg.DeviceType)) {
		in.alert(model.AlertRegistrationError, identity.Hash(msg.Serial), map[string]any{
			"client_id":   clientID,
			"reason":      "unrecognized device type",
			"device_type": msg.DeviceType,
		})
		return
	}

	serialHash := identity.Hash(msg.Serial)
	composite := identity.HashComposite(msg.Serial, msg.MAC)
	store := in.auth.Store()

	device, err := store.FindByCompositeHash(composite)
	switch {
	case err == nil:
		// Known identity re-registering. Status is never overwritten here.
		in.logger.Info("device re-registration",
			"device_id", device.ID, "serial_hash", serialHash)
	case errors.Is(err, registry.ErrNotFound):
		status := model.StatusPending
		// A pre-seeded approved row for the same serial vouches for the
		// newcomer.
		if seeded, err := store.FindBySerialHash(serialHash); err == nil && seeded.Status() == model.StatusApproved {
			status = model.StatusApproved
		}
		device = &model.Device{
			DeviceType:    model.DeviceType(msg.DeviceType),
			SerialHash:    serialHash,
			MACHash:       identity.Hash(msg.MAC),
			CompositeHash: composite,
			StatusRaw:     status.String(),
			RegisteredAt:  time.Now(),
		}
		device, err = store.UpsertDeviceIfAbsent(device)
		if err != nil {
			in.logger.Error("register device", "serial_hash", serialHash, "err", err)
			in.alert(model.AlertRegistrationError, serialHash, map[string]any{
				"client_id": clientID,
				"reason":    "persistence failure",
			})
			return
		}
		in.logger.Info("device registered",
			"device_id", device.ID, "serial_hash", serialHash,
			"device_type", msg.DeviceType, "status", device.StatusRaw)
	default:
		in.logger.Error("registration lookup", "serial_hash", serialHash, "err", err)
		return
	}

	in.backfillConnection(clientID, device)

	in.alert(model.AlertDeviceRegistration, serialHash, map[string]any{
		"client_id":        clientID,
		"device_type":      msg.DeviceType,
		"status":           device.StatusRaw,
		"firmware_version": msg.FirmwareVersion,
		"hardware_version": msg.HardwareVersion,
	})
}

// backfillConnection attaches the session's connection row to a device that
// registered after connecting.
func (in *Interceptor) backfillConnection(clientID string, device *model.Device) {
	in.mu.Lock()
	s, ok := in.sessions[clientID]
	if !ok || s.connectionID != 0 {
		in.mu.Unlock()
		return
	}
	remoteAddr := s.remoteAddr
	in.mu.Unlock()

	conn := &model.Connection{
		DeviceID:    device.ID,
		ConnectedAt: time.Now(),
		IPAddress:   remoteAddr,
		ClientInfo:  clientID,
	}
	if err := in.auth.Store().CreateConnection(conn); err != nil {
		in.logger.Error("backfill connection row",
			"device_id", device.ID, "err", err)
		return
	}

	in.mu.Lock()
	if s, ok := in.sessions[clientID]; ok {
		s.deviceID = device.ID
		s.connectionID = conn.ID
	}
	in.mu.Unlock()
}

// processHealth handles a /health publish.
func (in *Interceptor) processHealth(clientID string, body []byte) {
	var msg healthMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		in.alert(model.AlertHealthCheckError, clientID, map[string]any{
			"reason": "malformed health payload",
		})
		return
	}
	if !identity.ValidMAC(msg.MAC) {
		in.alert(model.AlertInvalidMACFormat, identity.Hash(msg.Serial), map[string]any{
			"client_id": clientID,
			"mac":       msg.MAC,
		})
		return
	}

	serialHash := identity.Hash(msg.Serial)
	store := in.auth.Store()

	device, err := store.FindBySerialHash(serialHash)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			in.alert(model.AlertDeviceNotFound, serialHash, map[string]any{
				"client_id": clientID,
			})
			return
		}
		in.logger.Error("health lookup", "serial_hash", serialHash, "err", err)
		return
	}

	// The claimed MAC must hash to the registered one; anything else is an
	// impersonation signal.
	if identity.Hash(msg.MAC) != device.MACHash {
		in.alert(model.AlertMACMismatch, serialHash, map[string]any{
			"client_id": clientID,
		})
		return
	}

	if ts, ok := parseHealthTimestamp(msg.Timestamp); !ok {
		in.alert(model.AlertInvalidTimestamp, serialHash, map[string]any{
			"client_id": clientID,
			"timestamp": msg.Timestamp,
		})
	} else if skew := absDuration(time.Since(ts)); skew > in.drift {
		in.alert(model.AlertTimeDrift, serialHash, map[string]any{
			"client_id":    clientID,
			"skew_seconds": int64(skew.Seconds()),
		})
	}

	if device.Status() == model.StatusBlocked {
		in.alert(model.AlertHealthRejBlocked, serialHash, map[string]any{
			"client_id": clientID,
		})
		return
	}
	if _, err := store.FindActiveByDeviceID(device.ID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			in.alert(model.AlertHealthRejNoConn, serialHash, map[string]any{
				"client_id": clientID,
			})
			return
		}
		in.logger.Error("health connection lookup", "device_id", device.ID, "err", err)
		return
	}

	if device.Status() != model.StatusApproved {
		in.logger.Debug("health from non-approved device",
			"device_id", device.ID, "status", device.StatusRaw)
		return
	}

	if err := store.UpdateLastHealthCheck(device.ID); err != nil {
		in.logger.Error("advance last health check",
			"device_id", device.ID, "err", err)
		return
	}
	in.logger.Debug("health check recorded",
		"device_id", device.ID, "battery_level", msg.BatteryLevel)
}

func (in *Interceptor) connectionError(clientID, remoteAddr, reason string) {
	in.alert(model.AlertConnectionError, clientID, map[string]any{
		"remote_addr": remoteAddr,
		"reason":      reason,
	})
}

// alert writes one durable alert row plus an event-stream record.
func (in *Interceptor) alert(t model.AlertType, serialHash string, details map[string]any) {
	in.logger.Warn("interceptor alert",
		"alert_type", string(t), "serial_hash", serialHash)

	raw, _ := json.Marshal(details)
	if err := in.auth.Store().InsertAlert(&model.Alert{
		AlertType:        t,
		DeviceSerialHash: serialHash,
		Details:          string(raw),
	}); err != nil {
		in.logger.Error("record interceptor alert",
			"alert_type", string(t), "err", err)
	}

	in.recorder.Record(alertlog.Event{
		Timestamp:  time.Now(),
		Type:       t,
		SerialHash: serialHash,
		Details:    details,
	})
}

// healthTimestampLayouts accepts local ISO-8601 or zoned RFC 3339.
var healthTimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseHealthTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range healthTimestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
