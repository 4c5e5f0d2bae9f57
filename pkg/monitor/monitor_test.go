package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
)

func newTestMonitor(t *testing.T) (*HealthMonitor, *registry.Store) {
	t.Helper()
	store, err := registry.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewHealthMonitor(store, nil, nil, 0, 0), store
}

func seedDevice(t *testing.T, store *registry.Store, serial string) *model.Device {
	t.Helper()
	d := &model.Device{
		DeviceType:    model.TypeTempSensor,
		SerialHash:    identity.Hash(serial),
		MACHash:       identity.Hash(serial + "-mac"),
		CompositeHash: identity.HashComposite(serial, serial+"-mac"),
		StatusRaw:     model.StatusApproved.String(),
	}
	require.NoError(t, store.InsertDevice(d))
	return d
}

func TestScanNeverReportedNoConnection(t *testing.T) {
	m, store := newTestMonitor(t)
	d := seedDevice(t, store, "IOT-2025-0001")

	require.NoError(t, m.Scan(time.Now()))

	alerts, err := store.FindAlertsByType(model.AlertDeviceOffline)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, d.SerialHash, alerts[0].DeviceSerialHash)
}

func TestScanStaleHealthClosesConnections(t *testing.T) {
	m, store := newTestMonitor(t)
	d := seedDevice(t, store, "IOT-2025-0001")
	require.NoError(t, store.UpdateLastHealthCheck(d.ID))

	// A closed connection should not protect the device.
	conn := &model.Connection{DeviceID: d.ID, IPAddress: "10.0.0.5"}
	require.NoError(t, store.CreateConnection(conn))
	require.NoError(t, store.CloseConnection(conn.ID))

	// Scan as if well past the threshold.
	require.NoError(t, m.Scan(time.Now().Add(10*time.Minute)))

	alerts, err := store.FindAlertsByType(model.AlertDeviceOffline)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestScanFreshHealthIsQuiet(t *testing.T) {
	m, store := newTestMonitor(t)
	d := seedDevice(t, store, "IOT-2025-0001")
	require.NoError(t, store.UpdateLastHealthCheck(d.ID))

	require.NoError(t, m.Scan(time.Now()))

	alerts, err := store.FindAlertsByType(model.AlertDeviceOffline)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestScanActiveConnectionSkips(t *testing.T) {
	m, store := newTestMonitor(t)
	d := seedDevice(t, store, "IOT-2025-0001")
	require.NoError(t, store.CreateConnection(&model.Connection{DeviceID: d.ID, IPAddress: "10.0.0.5"}))

	// Stale by time, but the live session means the device is reachable.
	require.NoError(t, m.Scan(time.Now().Add(10*time.Minute)))

	alerts, err := store.FindAlertsByType(model.AlertDeviceOffline)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	active, err := store.FindActiveByDeviceID(d.ID)
	require.NoError(t, err)
	assert.True(t, active.Active())
}

func TestStartStopIdempotent(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}
