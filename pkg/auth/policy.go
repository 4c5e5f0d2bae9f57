package auth

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/homehub-iot/hubcore/pkg/alertlog"
	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/model"
)

// Topic tails under a device's prefix.
const (
	TailRegister  = "register"
	TailHealth    = "health"
	TailTelemetry = "telemetry"
	TailCmd       = "cmd"
	TailOffline   = "offline"
)

// Policy makes the per-topic read/write decisions. It is synchronous and
// called by the broker on every subscribe and publish attempt.
type Policy struct {
	controllerID string
	auth         *Authenticator
	recorder     alertlog.Recorder
	logger       *slog.Logger
}

// NewPolicy creates the topic authorization policy for one controller id.
func NewPolicy(controllerID string, auth *Authenticator, recorder alertlog.Recorder, logger *slog.Logger) *Policy {
	if recorder == nil {
		recorder = alertlog.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		controllerID: controllerID,
		auth:         auth,
		recorder:     recorder,
		logger:       logger,
	}
}

// DeviceTopic is a parsed home/<controllerId>/devices/<serial>/<tail> topic.
type DeviceTopic struct {
	ControllerID string
	Serial       string
	Tail         string
}

// ParseDeviceTopic splits a device topic. ok is false when the topic does
// not follow the grammar.
func ParseDeviceTopic(topic string) (DeviceTopic, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "home" || parts[2] != "devices" {
		return DeviceTopic{}, false
	}
	return DeviceTopic{ControllerID: parts[1], Serial: parts[3], Tail: parts[4]}, true
}

// CanWrite decides a publish attempt. Rules are evaluated top-down, first
// match wins, default deny.
func (p *Policy) CanWrite(topic, clientID string) bool {
	if topic == "" || clientID == "" {
		return false
	}

	switch identity.Classify(clientID) {
	case identity.ClassController, identity.ClassAdmin:
		return true
	case identity.ClassDevice:
		return p.devicePublish(topic, clientID)
	default:
		return false
	}
}

// CanRead decides a subscribe attempt.
func (p *Policy) CanRead(topic, clientID string) bool {
	if topic == "" || clientID == "" {
		return false
	}

	class := identity.Classify(clientID)

	// Wildcard subscriptions are an admin-only capability.
	if strings.Contains(topic, "#") {
		if class == identity.ClassAdmin {
			return true
		}
		p.denySubscribe(clientID, topic, "wildcard subscribe by non-admin")
		return false
	}

	switch class {
	case identity.ClassController, identity.ClassAdmin:
		return true
	case identity.ClassDevice:
		return p.deviceSubscribe(topic, clientID)
	default:
		return false
	}
}

func (p *Policy) devicePublish(topic, clientID string) bool {
	dt, ok := ParseDeviceTopic(topic)
	if !ok || dt.ControllerID != p.controllerID {
		return false
	}

	// Devices never write commands, whoever the target is.
	if dt.Tail == TailCmd {
		p.denyPublish(clientID, topic, "device publish to command topic")
		return false
	}

	switch dt.Tail {
	case TailTelemetry, TailRegister, TailHealth, TailOffline:
	default:
		return false
	}

	// Identity pinning: the 4-digit tails of clientId and topic serial must
	// agree.
	if parsed, err := identity.ParseClientID(clientID); err == nil {
		if len(dt.Serial) >= 4 && parsed.SerialTail != dt.Serial[len(dt.Serial)-4:] {
			p.denyPublish(clientID, topic, "clientId serial mismatch")
			return false
		}
	}

	device, err := p.auth.Store().FindBySerialHash(identity.Hash(dt.Serial))
	if err != nil {
		// An unknown serial may introduce itself on the registration topic.
		// Everything else needs a registry row first.
		if dt.Tail == TailRegister {
			return true
		}
		p.logger.Warn("publish by unregistered device serial",
			"client_id", clientID, "topic", topic)
		return false
	}

	switch dt.Tail {
	case TailRegister:
		// Re-registration is fine for PENDING and APPROVED rows; blocked and
		// rejected devices stay out.
		if s := device.Status(); s == model.StatusBlocked || s == model.StatusRejected {
			p.denyPublish(clientID, topic, "registration by "+s.String()+" device")
			return false
		}
		return true
	case TailHealth, TailOffline:
		// The interceptor enforces status here so that rejected health
		// reports still raise their specific alerts.
		return true
	default:
		if device.Status() != model.StatusApproved {
			p.denyPublish(clientID, topic, "publish by non-approved device")
			return false
		}
		return true
	}
}

func (p *Policy) deviceSubscribe(topic, clientID string) bool {
	dt, ok := ParseDeviceTopic(topic)
	if !ok || dt.ControllerID != p.controllerID || dt.Tail != TailCmd {
		return false
	}

	device, err := p.auth.Store().FindBySerialHash(identity.Hash(dt.Serial))
	if err != nil {
		return false
	}
	if device.Status() != model.StatusApproved {
		return false
	}

	// A device only sees its own command topic.
	if parsed, err := identity.ParseClientID(clientID); err == nil {
		if len(dt.Serial) >= 4 && parsed.SerialTail != dt.Serial[len(dt.Serial)-4:] {
			p.denySubscribe(clientID, topic, "clientId serial mismatch")
			return false
		}
	}
	return true
}

func (p *Policy) denyPublish(clientID, topic, reason string) {
	p.deny(model.AlertUnauthorizedPublish, clientID, topic, reason)
}

func (p *Policy) denySubscribe(clientID, topic, reason string) {
	p.deny(model.AlertUnauthorizedSubscribe, clientID, topic, reason)
}

// deny records attack-surface denials both as a durable alert row and on
// the event stream.
func (p *Policy) deny(alert model.AlertType, clientID, topic, reason string) {
	p.logger.Warn("authorization denied",
		"client_id", clientID, "topic", topic, "reason", reason)

	details, _ := json.Marshal(map[string]string{
		"client_id": clientID,
		"topic":     topic,
		"reason":    reason,
	})
	if err := p.auth.Store().InsertAlert(&model.Alert{
		AlertType:        alert,
		DeviceSerialHash: clientID,
		Details:          string(details),
	}); err != nil {
		p.logger.Error("record authorization alert", "err", err)
	}

	p.recorder.Record(alertlog.Event{
		Timestamp: time.Now(),
		Type:      alert,
		ClientID:  clientID,
		Topic:     topic,
		Details:   map[string]any{"reason": reason},
	})
}
