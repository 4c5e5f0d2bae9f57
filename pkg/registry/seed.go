package registry

import (
	"log/slog"

	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/model"
)

// SeedDevice describes one bootstrap row for demo installations.
type SeedDevice struct {
	Serial   string
	MAC      string
	Type     model.DeviceType
	Critical bool
}

// DemoSeeds returns the built-in demo installation: two sensors, a plug
// and a critical switch.
func DemoSeeds() []SeedDevice {
	return []SeedDevice{
		{Serial: "IOT-2025-0001", MAC: "AA:BB:CC:DD:EE:01", Type: model.TypeTempSensor},
		{Serial: "IOT-2025-0002", MAC: "AA:BB:CC:DD:EE:02", Type: model.TypeEnergySensor},
		{Serial: "IOT-2025-0003", MAC: "AA:BB:CC:DD:EE:03", Type: model.TypeSmartPlug},
		{Serial: "IOT-2025-0004", MAC: "AA:BB:CC:DD:EE:04", Type: model.TypeSmartSwitch, Critical: true},
	}
}

// SeedDemoDevices inserts pre-approved demo devices. Rows that already
// exist are left untouched; unique-key violations are suppressed so the
// seed is safe to run on every start.
func (s *Store) SeedDemoDevices(seeds []SeedDevice) error {
	for _, sd := range seeds {
		d := &model.Device{
			DeviceType:    sd.Type,
			SerialHash:    identity.Hash(sd.Serial),
			MACHash:       identity.Hash(sd.MAC),
			CompositeHash: identity.HashComposite(sd.Serial, sd.MAC),
			StatusRaw:     model.StatusApproved.String(),
			Critical:      sd.Critical,
		}
		if err := s.InsertDevice(d); err != nil {
			if isUniqueViolation(err) {
				s.logger.Debug("seed device already present", "serial", sd.Serial)
				continue
			}
			return err
		}
		s.logger.Info("seeded demo device",
			"serial", sd.Serial, "type", string(sd.Type), "critical", sd.Critical,
			"device_id", d.ID, slog.String("status", d.StatusRaw))
	}
	return nil
}
