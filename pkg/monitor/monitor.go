package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homehub-iot/hubcore/pkg/alertlog"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
)

// Defaults for the scan cycle.
const (
	DefaultScanInterval     = 2 * time.Minute
	DefaultOfflineThreshold = 3 * time.Minute
)

// HealthMonitor periodically scans the registry for devices that stopped
// sending health checks. Devices with an active connection are left alone;
// their next health message is assumed to be in flight.
type HealthMonitor struct {
	store     *registry.Store
	recorder  alertlog.Recorder
	logger    *slog.Logger
	interval  time.Duration
	threshold time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewHealthMonitor creates a monitor with the given scan interval and
// offline threshold. Zero values fall back to the defaults.
func NewHealthMonitor(store *registry.Store, recorder alertlog.Recorder, logger *slog.Logger, interval, threshold time.Duration) *HealthMonitor {
	if recorder == nil {
		recorder = alertlog.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if threshold <= 0 {
		threshold = DefaultOfflineThreshold
	}
	return &HealthMonitor{
		store:     store,
		recorder:  recorder,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
	}
}

// Start launches the scan loop. Idempotent.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
	m.logger.Info("health monitor started",
		"interval", m.interval, "threshold", m.threshold)
}

// Stop signals the loop and waits up to 5 seconds for it to exit.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.logger.Warn("health monitor did not stop in time")
	}
}

func (m *HealthMonitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.Scan(time.Now()); err != nil {
				m.logger.Error("health scan failed", "err", err)
			}
		}
	}
}

// Scan runs one pass over all devices. Exported so tests and admin tools
// can trigger a scan without waiting for the timer.
func (m *HealthMonitor) Scan(now time.Time) error {
	devices, err := m.store.FindAllDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	var offline int
	for i := range devices {
		d := &devices[i]
		stale, reason := m.classify(d, now)
		if !stale {
			continue
		}

		// An open session means the device is reachable even if its health
		// messages lag; skip it this round.
		if _, err := m.store.FindActiveByDeviceID(d.ID); err == nil {
			continue
		} else if !errors.Is(err, registry.ErrNotFound) {
			m.logger.Error("active connection lookup failed",
				"device_id", d.ID, "err", err)
			continue
		}

		if reason == "health check stale" {
			if err := m.store.CloseAllForDevice(d.ID); err != nil {
				m.logger.Error("close stale connections",
					"device_id", d.ID, "err", err)
			}
		}
		m.raiseOffline(d, reason, now)
		offline++
	}

	if offline > 0 {
		m.logger.Info("health scan complete",
			"devices", len(devices), "offline", offline)
	}
	return nil
}

func (m *HealthMonitor) classify(d *model.Device, now time.Time) (bool, string) {
	if !d.LastHealthCheck.Valid {
		return true, "never reported health"
	}
	if now.Sub(d.LastHealthCheck.Time) > m.threshold {
		return true, "health check stale"
	}
	return false, ""
}

func (m *HealthMonitor) raiseOffline(d *model.Device, reason string, now time.Time) {
	m.logger.Warn("device offline",
		"device_id", d.ID, "serial_hash", d.SerialHash, "reason", reason)

	details, _ := json.Marshal(map[string]any{
		"reason":            reason,
		"last_health_check": nullableTime(d.LastHealthCheck.Time, d.LastHealthCheck.Valid),
		"detected_at":       now.Format(time.RFC3339),
	})
	if err := m.store.InsertAlert(&model.Alert{
		AlertType:        model.AlertDeviceOffline,
		DeviceSerialHash: d.SerialHash,
		Details:          string(details),
	}); err != nil {
		m.logger.Error("record offline alert", "device_id", d.ID, "err", err)
	}

	m.recorder.Record(alertlog.Event{
		Timestamp:  now,
		Type:       model.AlertDeviceOffline,
		SerialHash: d.SerialHash,
		Details:    map[string]any{"reason": reason},
	})
}

func nullableTime(t time.Time, valid bool) any {
	if !valid {
		return nil
	}
	return t.Format(time.RFC3339)
}
