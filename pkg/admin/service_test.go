package admin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
)

func newTestService(t *testing.T) (*Service, *registry.Store) {
	t.Helper()
	store, err := registry.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, nil), store
}

func addDevice(t *testing.T, store *registry.Store, status model.DeviceStatus) *model.Device {
	t.Helper()
	d := &model.Device{
		DeviceType:    model.TypeSmartPlug,
		SerialHash:    identity.Hash("IOT-2025-0042"),
		MACHash:       identity.Hash("AA:BB:CC:DD:EE:42"),
		CompositeHash: identity.HashComposite("IOT-2025-0042", "AA:BB:CC:DD:EE:42"),
		StatusRaw:     status.String(),
	}
	require.NoError(t, store.InsertDevice(d))
	return d
}

func TestApprove(t *testing.T) {
	s, store := newTestService(t)
	d := addDevice(t, store, model.StatusPending)

	assert.True(t, s.Approve(d.ID, "admin"))

	got, err := store.FindByID(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status())
	assert.Equal(t, "admin", got.ApprovedBy.String)

	alerts, err := store.FindAlertsByType(model.AlertDeviceApproved)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	// Approving an approved device reports false and adds nothing.
	assert.False(t, s.Approve(d.ID, "admin"))
	alerts, err = store.FindAlertsByType(model.AlertDeviceApproved)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestApproveUnknownDevice(t *testing.T) {
	s, _ := newTestService(t)
	assert.False(t, s.Approve(99, "admin"))
}

func TestRejectClosesConnections(t *testing.T) {
	s, store := newTestService(t)
	d := addDevice(t, store, model.StatusPending)
	require.NoError(t, store.CreateConnection(&model.Connection{DeviceID: d.ID, IPAddress: "10.0.0.5"}))

	assert.True(t, s.Reject(d.ID, "admin"))

	got, err := store.FindByID(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status())

	_, err = store.FindActiveByDeviceID(d.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	alerts, err := store.FindAlertsByType(model.AlertDeviceRejected)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestUnblockOnlyFromBlocked(t *testing.T) {
	s, store := newTestService(t)
	d := addDevice(t, store, model.StatusBlocked)

	assert.True(t, s.Unblock(d.ID, "admin"))
	got, err := store.FindByID(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status())

	// Unblocking a non-blocked device is refused.
	assert.False(t, s.Unblock(d.ID, "admin"))
}

func TestMarkCritical(t *testing.T) {
	s, store := newTestService(t)
	d := addDevice(t, store, model.StatusApproved)

	assert.True(t, s.MarkCritical(d.ID, "admin"))
	got, err := store.FindByID(d.ID)
	require.NoError(t, err)
	assert.True(t, got.Critical)

	assert.False(t, s.MarkCritical(d.ID, "admin"), "already critical")

	alerts, err := store.FindAlertsByType(model.AlertDeviceMarkedCritical)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestAdminActionsAudited(t *testing.T) {
	s, store := newTestService(t)
	d := addDevice(t, store, model.StatusPending)

	require.True(t, s.Approve(d.ID, "admin"))

	// One audit row and one alert row per action.
	alerts, err := store.FindAllAlerts()
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestListings(t *testing.T) {
	s, store := newTestService(t)
	addDevice(t, store, model.StatusPending)

	pending, err := s.PendingDevices()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	all, err := s.AllDevices()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
