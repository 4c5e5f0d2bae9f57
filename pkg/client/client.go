package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/transport"
)

// DefaultHealthInterval is how often a device publishes health.
const DefaultHealthInterval = 60 * time.Second

const connectTimeout = 10 * time.Second

// Options configures a SecureClient.
type Options struct {
	// BrokerURL is the hub endpoint, e.g. "ssl://hub.local:8884".
	BrokerURL string

	// ControllerID scopes the topic namespace.
	ControllerID string

	// Serial and MAC are the device's own identity.
	Serial string
	MAC    string

	// DeviceType picks the telemetry QoS: actuators publish at QoS 1,
	// sensors at QoS 0.
	DeviceType model.DeviceType

	// Material is the device's PKCS#12 key store plus the hub trust store.
	Material transport.Material

	// FirmwareVersion and HardwareVersion are reported at registration.
	FirmwareVersion string
	HardwareVersion string

	// HealthInterval overrides DefaultHealthInterval when positive.
	HealthInterval time.Duration

	Logger *slog.Logger
}

// SecureClient is one device's TLS MQTT session to the hub.
type SecureClient struct {
	opts     Options
	clientID string
	logger   *slog.Logger
	mqtt     paho.Client

	mu         sync.Mutex
	healthStop chan struct{}
	healthDone chan struct{}
	started    time.Time
}

// New builds a SecureClient. The network is not touched until Connect.
func New(opts Options) (*SecureClient, error) {
	if opts.Serial == "" || !identity.ValidMAC(opts.MAC) {
		return nil, fmt.Errorf("device identity requires a serial and a valid MAC")
	}
	if !model.ValidDeviceType(opts.DeviceType) {
		return nil, fmt.Errorf("unrecognized device type %q", opts.DeviceType)
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &SecureClient{
		opts:     opts,
		clientID: identity.ClientID(opts.Serial, opts.MAC),
		logger:   opts.Logger,
	}

	tlsMaterial, err := transport.Load(opts.Material)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := transport.NewClientTLSConfig(tlsMaterial)
	if err != nil {
		return nil, err
	}

	will, _ := json.Marshal(map[string]string{
		"serial": opts.Serial,
		"reason": "connection_lost",
	})

	po := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(c.clientID).
		SetTLSConfig(tlsConfig).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetBinaryWill(c.topic("offline"), will, 1, false).
		SetOnConnectHandler(func(paho.Client) {
			c.onConnect()
		})

	c.mqtt = paho.NewClient(po)
	return c, nil
}

// ClientID returns the derived MQTT client identifier.
func (c *SecureClient) ClientID() string {
	return c.clientID
}

func (c *SecureClient) topic(tail string) string {
	return fmt.Sprintf("home/%s/devices/%s/%s", c.opts.ControllerID, c.opts.Serial, tail)
}

// Connect opens the session. Registration and the health loop start from
// the connect handler, so they also run after every auto-reconnect.
func (c *SecureClient) Connect() error {
	c.mu.Lock()
	c.started = time.Now()
	c.mu.Unlock()

	token := c.mqtt.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to %s timed out", c.opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", c.opts.BrokerURL, err)
	}
	return nil
}

func (c *SecureClient) onConnect() {
	if err := c.register(); err != nil {
		c.logger.Error("registration publish failed", "err", err)
	}
	c.startHealthLoop()
}

func (c *SecureClient) register() error {
	body, _ := json.Marshal(map[string]string{
		"serial":           c.opts.Serial,
		"mac":              c.opts.MAC,
		"device_type":      string(c.opts.DeviceType),
		"firmware_version": c.opts.FirmwareVersion,
		"hardware_version": c.opts.HardwareVersion,
	})
	token := c.mqtt.Publish(c.topic("register"), 1, false, body)
	token.Wait()
	return token.Error()
}

func (c *SecureClient) startHealthLoop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthStop != nil {
		return
	}
	c.healthStop = make(chan struct{})
	c.healthDone = make(chan struct{})
	go c.healthLoop(c.healthStop, c.healthDone)
}

func (c *SecureClient) healthLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.publishHealth(); err != nil {
				c.logger.Warn("health publish failed", "err", err)
			}
		}
	}
}

func (c *SecureClient) publishHealth() error {
	c.mu.Lock()
	uptime := int64(time.Since(c.started).Seconds())
	c.mu.Unlock()

	body, _ := json.Marshal(map[string]any{
		"serial":        c.opts.Serial,
		"mac":           c.opts.MAC,
		"timestamp":     time.Now().Format("2006-01-02T15:04:05"),
		"battery_level": readBatteryLevel(),
		"uptime":        uptime,
	})
	token := c.mqtt.Publish(c.topic("health"), 1, false, body)
	token.Wait()
	return token.Error()
}

// PublishTelemetry sends one measurement. Sensors use QoS 0, actuators
// QoS 1.
func (c *SecureClient) PublishTelemetry(measurement string, value float64) error {
	var qos byte
	if c.opts.DeviceType.Actuator() {
		qos = 1
	}
	body, _ := json.Marshal(map[string]any{
		"serial":      c.opts.Serial,
		"timestamp":   time.Now().Format("2006-01-02T15:04:05"),
		"measurement": measurement,
		"value":       value,
	})
	token := c.mqtt.Publish(c.topic("telemetry"), qos, false, body)
	token.Wait()
	return token.Error()
}

// SubscribeCommands registers a handler for the device's own command topic.
func (c *SecureClient) SubscribeCommands(handler func(payload []byte)) error {
	token := c.mqtt.Subscribe(c.topic("cmd"), 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Close stops the health loop and disconnects cleanly, letting in-flight
// publishes drain.
func (c *SecureClient) Close() {
	c.mu.Lock()
	stop, done := c.healthStop, c.healthDone
	c.healthStop, c.healthDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	c.mqtt.Disconnect(250)
}

// readBatteryLevel reports the battery percentage. Mains-powered builds
// have no battery; a fixed full charge stands in.
func readBatteryLevel() int {
	return 100
}
