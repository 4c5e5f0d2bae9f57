package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/transport"
)

// Command is one controller instruction to a device.
type Command struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// CommandPublisher is the controller's session for sending device commands.
// It connects with the well-known controller clientId and publishes at
// QoS 2, exactly once per command.
type CommandPublisher struct {
	controllerID string
	logger       *slog.Logger
	mqtt         paho.Client
}

// NewCommandPublisher builds the controller command session.
func NewCommandPublisher(brokerURL, controllerID string, material transport.Material, logger *slog.Logger) (*CommandPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tlsMaterial, err := transport.Load(material)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := transport.NewClientTLSConfig(tlsMaterial)
	if err != nil {
		return nil, err
	}

	po := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(identity.ControllerClientID).
		SetTLSConfig(tlsConfig).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	return &CommandPublisher{
		controllerID: controllerID,
		logger:       logger,
		mqtt:         paho.NewClient(po),
	}, nil
}

// Connect opens the controller session.
func (p *CommandPublisher) Connect() error {
	token := p.mqtt.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("controller connect timed out")
	}
	return token.Error()
}

// Send publishes one command to a device's command topic.
func (p *CommandPublisher) Send(serial string, cmd Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	topic := fmt.Sprintf("home/%s/devices/%s/cmd", p.controllerID, serial)
	token := p.mqtt.Publish(topic, 2, false, body)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("command publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("command publish to %s: %w", topic, err)
	}
	p.logger.Info("command sent", "serial", serial, "action", cmd.Action)
	return nil
}

// Close disconnects the controller session.
func (p *CommandPublisher) Close() {
	p.mqtt.Disconnect(250)
}
