package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceStatusRoundTrip(t *testing.T) {
	for _, s := range []DeviceStatus{StatusPending, StatusApproved, StatusRejected, StatusBlocked} {
		parsed, err := ParseDeviceStatus(s.String())
		assert.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseDeviceStatus("LIMBO")
	assert.Error(t, err)
}

func TestDeviceStatusUnknownMapsToPending(t *testing.T) {
	d := Device{StatusRaw: "???"}
	assert.Equal(t, StatusPending, d.Status())
}

func TestDeviceTypeActuator(t *testing.T) {
	assert.True(t, TypeSmartPlug.Actuator())
	assert.True(t, TypeSmartSwitch.Actuator())
	assert.False(t, TypeTempSensor.Actuator())
	assert.False(t, TypeEnergySensor.Actuator())
}

func TestValidDeviceType(t *testing.T) {
	assert.True(t, ValidDeviceType(TypeTempSensor))
	assert.False(t, ValidDeviceType(DeviceType("TOASTER")))
	assert.False(t, ValidDeviceType(DeviceType("")))
}

func TestConnectionActive(t *testing.T) {
	c := Connection{}
	assert.True(t, c.Active())
	c.DisconnectedAt.Valid = true
	assert.False(t, c.Active())
}
