package client

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/homehub-iot/hubcore/pkg/model"
)

// DeviceAgent drives a SecureClient as a complete simulated device: it
// connects, listens for commands and publishes telemetry on a timer.
// Useful for demos and for exercising a hub end to end.
type DeviceAgent struct {
	client   *SecureClient
	logger   *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	on   bool
	stop chan struct{}
	done chan struct{}
}

// NewDeviceAgent wraps a SecureClient with a telemetry loop at the given
// interval.
func NewDeviceAgent(client *SecureClient, interval time.Duration, logger *slog.Logger) *DeviceAgent {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceAgent{client: client, logger: logger, interval: interval}
}

// Run connects and starts the loops. Blocks until Stop is called.
func (a *DeviceAgent) Run() error {
	if err := a.client.Connect(); err != nil {
		return err
	}
	if err := a.client.SubscribeCommands(a.handleCommand); err != nil {
		a.logger.Warn("command subscribe failed", "err", err)
	}

	a.mu.Lock()
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	stop, done := a.stop, a.done
	a.mu.Unlock()

	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			measurement, value := a.sample()
			if err := a.client.PublishTelemetry(measurement, value); err != nil {
				a.logger.Warn("telemetry publish failed", "err", err)
			}
		}
	}
}

// Stop ends the loops and closes the session.
func (a *DeviceAgent) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	a.client.Close()
}

func (a *DeviceAgent) handleCommand(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		a.logger.Warn("malformed command payload")
		return
	}

	a.mu.Lock()
	switch cmd.Action {
	case "on":
		a.on = true
	case "off":
		a.on = false
	}
	state := a.on
	a.mu.Unlock()

	a.logger.Info("command handled", "action", cmd.Action, "on", state)
}

// sample fabricates a plausible reading for the device type.
func (a *DeviceAgent) sample() (string, float64) {
	switch a.client.opts.DeviceType {
	case model.TypeTempSensor:
		return "temperature_c", 18 + rand.Float64()*8
	case model.TypeEnergySensor:
		return "power_w", 100 + rand.Float64()*2300
	case model.TypeSmartPlug, model.TypeSmartSwitch:
		a.mu.Lock()
		on := a.on
		a.mu.Unlock()
		if on {
			return "power_w", 5 + rand.Float64()*60
		}
		return "power_w", 0
	default:
		return "value", rand.Float64()
	}
}
