package broker

import (
	"bytes"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/homehub-iot/hubcore/pkg/auth"
)

// SecurityHook wires the authenticator, topic policy and interceptor into
// the mochi-mqtt server. TLS has already verified the client certificate by
// the time any of these fire; the hook enforces the identity and topic
// rules on top.
type SecurityHook struct {
	mqtt.HookBase
	policy      *auth.Policy
	interceptor *Interceptor
	logger      *slog.Logger
}

// NewSecurityHook creates the hook.
func NewSecurityHook(policy *auth.Policy, interceptor *Interceptor, logger *slog.Logger) *SecurityHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityHook{
		policy:      policy,
		interceptor: interceptor,
		logger:      logger,
	}
}

// ID returns the hook identifier.
func (h *SecurityHook) ID() string {
	return "security-hook"
}

// Provides indicates which hook methods this hook provides.
func (h *SecurityHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnSessionEstablished,
		mqtt.OnDisconnect,
		mqtt.OnPublished,
	}, []byte{b})
}

// OnConnectAuthenticate admits or rejects a CONNECT.
func (h *SecurityHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	return h.interceptor.AuthorizeConnect(cl.ID, cl.Net.Remote)
}

// OnACLCheck authorizes one subscribe (write=false) or publish (write=true).
func (h *SecurityHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	if write {
		return h.policy.CanWrite(topic, cl.ID)
	}
	return h.policy.CanRead(topic, cl.ID)
}

// OnSessionEstablished tracks the admitted session.
func (h *SecurityHook) OnSessionEstablished(cl *mqtt.Client, pk packets.Packet) {
	h.interceptor.SessionEstablished(cl.ID, cl.Net.Remote)
}

// OnDisconnect closes the session's connection row.
func (h *SecurityHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.interceptor.SessionClosed(cl.ID, err)
}

// OnPublished forwards delivered publishes to the interceptor.
func (h *SecurityHook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	h.interceptor.Published(cl.ID, pk.TopicName, pk.Payload)
}
