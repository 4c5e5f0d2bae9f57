package alertlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub-iot/hubcore/pkg/model"
)

func TestFileRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	rec, err := NewFileRecorder(path)
	require.NoError(t, err)

	rec.Record(Event{
		Type:       model.AlertCloneDetected,
		SerialHash: "abc",
		RemoteAddr: "10.0.0.5:1000",
		Details:    map[string]any{"action": "BLOCKED_DEVICE_DISCONNECTED_BOTH"},
	})
	rec.Record(Event{
		Type:     model.AlertUnauthorizedPublish,
		ClientID: "IOT0042AABBCC",
		Topic:    "home/controller-01/devices/IOT-2025-0042/cmd",
	})
	require.NoError(t, rec.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := cbor.NewDecoder(f)
	var first, second Event
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, model.AlertCloneDetected, first.Type)
	assert.Equal(t, "abc", first.SerialHash)
	assert.False(t, first.Timestamp.IsZero(), "timestamp filled in on record")

	assert.Equal(t, model.AlertUnauthorizedPublish, second.Type)
	assert.Equal(t, "IOT0042AABBCC", second.ClientID)
}

func TestFileRecorderCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	rec, err := NewFileRecorder(path)
	require.NoError(t, err)

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	// Recording after close is silently ignored.
	rec.Record(Event{Type: model.AlertDeviceOffline, Timestamp: time.Now()})
}

func TestMultiFansOut(t *testing.T) {
	var a, b countingRecorder
	m := Multi{&a, &b}
	m.Record(Event{Type: model.AlertDeviceOffline})
	m.Record(Event{Type: model.AlertDeviceOffline})

	assert.Equal(t, 2, a.n)
	assert.Equal(t, 2, b.n)
}

type countingRecorder struct{ n int }

func (c *countingRecorder) Record(Event) { c.n++ }
