package admin

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
)

// Service applies operator actions to the registry. Each action returns
// whether it took effect; a false return means the device was missing or
// the transition made no sense for its current state.
type Service struct {
	store  *registry.Store
	logger *slog.Logger
}

// NewService creates the admin service.
func NewService(store *registry.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Approve moves a device to APPROVED.
func (s *Service) Approve(deviceID int64, actor string) bool {
	return s.transition(deviceID, actor, model.StatusApproved, model.AlertDeviceApproved,
		func(d *model.Device) bool {
			return d.Status() != model.StatusApproved
		})
}

// Reject moves a device to REJECTED and closes its connections; a rejected
// device has no business staying online.
func (s *Service) Reject(deviceID int64, actor string) bool {
	ok := s.transition(deviceID, actor, model.StatusRejected, model.AlertDeviceRejected,
		func(d *model.Device) bool {
			return d.Status() != model.StatusRejected
		})
	if ok {
		if err := s.store.CloseAllForDevice(deviceID); err != nil {
			s.logger.Error("close connections of rejected device",
				"device_id", deviceID, "err", err)
		}
	}
	return ok
}

// Unblock returns a BLOCKED device to APPROVED. Only blocked devices
// qualify.
func (s *Service) Unblock(deviceID int64, actor string) bool {
	return s.transition(deviceID, actor, model.StatusApproved, model.AlertDeviceUnblocked,
		func(d *model.Device) bool {
			return d.Status() == model.StatusBlocked
		})
}

// MarkCritical flags a device as critical infrastructure, changing how
// clone detection treats it.
func (s *Service) MarkCritical(deviceID int64, actor string) bool {
	device, err := s.store.FindByID(deviceID)
	if err != nil {
		s.deviceMissing(deviceID, err)
		return false
	}
	if device.Critical {
		return false
	}
	if err := s.store.MarkCritical(deviceID); err != nil {
		s.logger.Error("mark device critical", "device_id", deviceID, "err", err)
		return false
	}
	s.record(device, actor, model.AlertDeviceMarkedCritical, "MARK_CRITICAL")
	return true
}

// transition applies one status change guarded by an eligibility check.
func (s *Service) transition(deviceID int64, actor string, to model.DeviceStatus, alert model.AlertType, eligible func(*model.Device) bool) bool {
	device, err := s.store.FindByID(deviceID)
	if err != nil {
		s.deviceMissing(deviceID, err)
		return false
	}
	if !eligible(device) {
		s.logger.Info("status transition skipped",
			"device_id", deviceID, "from", device.StatusRaw, "to", to.String())
		return false
	}
	if err := s.store.UpdateStatus(deviceID, to, actor); err != nil {
		s.logger.Error("status transition failed",
			"device_id", deviceID, "to", to.String(), "err", err)
		return false
	}
	s.record(device, actor, alert, to.String())
	return true
}

// record writes the audit row and the alert for one admin action.
func (s *Service) record(device *model.Device, actor string, alert model.AlertType, action string) {
	details, _ := json.Marshal(map[string]string{
		"actor":  actor,
		"action": action,
	})

	if err := s.store.InsertAudit(&model.AuditLog{
		EventType: string(alert),
		Subject:   device.SerialHash,
		Details:   string(details),
	}); err != nil {
		s.logger.Error("record audit row", "err", err)
	}
	if err := s.store.InsertAlert(&model.Alert{
		AlertType:        alert,
		DeviceSerialHash: device.SerialHash,
		Details:          string(details),
	}); err != nil {
		s.logger.Error("record admin alert", "err", err)
	}

	s.logger.Info("admin action",
		"device_id", device.ID, "action", action, "actor", actor)
}

func (s *Service) deviceMissing(deviceID int64, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		s.logger.Warn("admin action on unknown device", "device_id", deviceID)
		return
	}
	s.logger.Error("device lookup failed", "device_id", deviceID, "err", err)
}

// PendingDevices lists devices awaiting approval.
func (s *Service) PendingDevices() ([]model.Device, error) {
	return s.store.FindByStatus(model.StatusPending)
}

// AllDevices lists every registered device.
func (s *Service) AllDevices() ([]model.Device, error) {
	return s.store.FindAllDevices()
}

// AlertsByType lists alerts of one type, newest first.
func (s *Service) AlertsByType(t model.AlertType) ([]model.Alert, error) {
	return s.store.FindAlertsByType(t)
}

// AllAlerts lists every alert, newest first.
func (s *Service) AllAlerts() ([]model.Alert, error) {
	return s.store.FindAllAlerts()
}
