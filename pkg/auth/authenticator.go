package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/homehub-iot/hubcore/pkg/alertlog"
	"github.com/homehub-iot/hubcore/pkg/identity"
	"github.com/homehub-iot/hubcore/pkg/model"
	"github.com/homehub-iot/hubcore/pkg/registry"
)

// Outcome classifies a device identity against the registry.
type Outcome uint8

const (
	// OutcomeValid is an APPROVED device.
	OutcomeValid Outcome = iota

	// OutcomeNotFound is an identity with no registry row.
	OutcomeNotFound

	// OutcomePending awaits approval.
	OutcomePending

	// OutcomeBlocked is shut out.
	OutcomeBlocked

	// OutcomeInvalidStatus covers the remaining states (REJECTED).
	OutcomeInvalidStatus
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "VALID"
	case OutcomeNotFound:
		return "NOT_FOUND"
	case OutcomePending:
		return "PENDING"
	case OutcomeBlocked:
		return "BLOCKED"
	case OutcomeInvalidStatus:
		return "INVALID_STATUS"
	default:
		return "UNKNOWN"
	}
}

// CloneAction says what the duplicate policy decided to do with the
// incumbent and the newcomer.
type CloneAction uint8

const (
	// ActionAcceptNew closes the incumbent and admits the new session
	// (same peer address: a legitimate reconnection).
	ActionAcceptNew CloneAction = iota

	// ActionRejectNew keeps the incumbent and refuses the newcomer
	// (critical device, different peer).
	ActionRejectNew

	// ActionBlockDevice closes the incumbent, rejects the newcomer and
	// transitions the device to BLOCKED (non-critical clone).
	ActionBlockDevice
)

// actionTaken is the persisted wire form of each action.
func (a CloneAction) actionTaken() string {
	switch a {
	case ActionAcceptNew:
		return "CLOSED_OLD_ALLOWED_NEW"
	case ActionRejectNew:
		return "REJECTED_NEW_KEPT_OLD"
	case ActionBlockDevice:
		return "BLOCKED_DEVICE_DISCONNECTED_BOTH"
	default:
		return "UNKNOWN"
	}
}

// CloneDecision is the applied outcome of duplicate detection.
type CloneDecision struct {
	Action CloneAction
	Alert  model.AlertType
}

// AcceptNew reports whether the new session may proceed.
func (d CloneDecision) AcceptNew() bool {
	return d.Action == ActionAcceptNew
}

// Authenticator resolves client identities against the registry and applies
// the duplicate-connection policy.
type Authenticator struct {
	store    *registry.Store
	recorder alertlog.Recorder
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator over the given store.
// recorder may be nil.
func NewAuthenticator(store *registry.Store, recorder alertlog.Recorder, logger *slog.Logger) *Authenticator {
	if recorder == nil {
		recorder = alertlog.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{store: store, recorder: recorder, logger: logger}
}

// Store exposes the registry handle for collaborators that share it.
func (a *Authenticator) Store() *registry.Store {
	return a.store
}

// Validate classifies the device identified by serial and mac.
func (a *Authenticator) Validate(serial, mac string) (Outcome, *model.Device, error) {
	return a.ValidateComposite(identity.HashComposite(serial, mac))
}

// ValidateComposite classifies the device with the given composite hash.
func (a *Authenticator) ValidateComposite(compositeHash string) (Outcome, *model.Device, error) {
	device, err := a.store.FindByCompositeHash(compositeHash)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return OutcomeNotFound, nil, nil
		}
		return OutcomeNotFound, nil, err
	}

	switch device.Status() {
	case model.StatusApproved:
		return OutcomeValid, device, nil
	case model.StatusPending:
		return OutcomePending, device, nil
	case model.StatusBlocked:
		return OutcomeBlocked, device, nil
	default:
		return OutcomeInvalidStatus, device, nil
	}
}

// DecideClone evaluates the duplicate-connection table without touching the
// store: same peer address means reconnection; otherwise criticality picks
// between protecting the incumbent and blocking the device.
func DecideClone(critical bool, samePeer bool) CloneDecision {
	switch {
	case samePeer:
		return CloneDecision{Action: ActionAcceptNew, Alert: model.AlertDeviceReconnection}
	case critical:
		return CloneDecision{Action: ActionRejectNew, Alert: model.AlertCriticalCloneTry}
	default:
		return CloneDecision{Action: ActionBlockDevice, Alert: model.AlertCloneDetected}
	}
}

// peerHost strips the port from a remote address. A reconnecting device
// arrives on a fresh ephemeral port, so the same-peer decision compares
// hosts only; addresses without a port pass through unchanged.
func peerHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// HandleDuplicate applies the clone policy for a device that already has an
// active session when a new CONNECT arrives. Exactly one alert row is
// emitted per event.
func (a *Authenticator) HandleDuplicate(device *model.Device, existing *model.Connection, newAddr string) (CloneDecision, error) {
	decision := DecideClone(device.Critical, peerHost(existing.IPAddress) == peerHost(newAddr))

	a.logger.Warn("duplicate connection detected",
		"device_id", device.ID,
		"serial_hash", device.SerialHash,
		"old_addr", existing.IPAddress,
		"new_addr", newAddr,
		"critical", device.Critical,
		"action", decision.Action.actionTaken())

	switch decision.Action {
	case ActionAcceptNew:
		if err := a.store.CloseConnection(existing.ID); err != nil {
			return decision, fmt.Errorf("close superseded connection: %w", err)
		}
	case ActionRejectNew:
		// Incumbent stays; nothing to mutate.
	case ActionBlockDevice:
		if err := a.store.CloseConnection(existing.ID); err != nil {
			return decision, fmt.Errorf("close cloned connection: %w", err)
		}
		if err := a.store.UpdateStatus(device.ID, model.StatusBlocked, "SYSTEM"); err != nil {
			return decision, fmt.Errorf("block cloned device: %w", err)
		}
	}

	details, _ := json.Marshal(map[string]any{
		"old_addr":            existing.IPAddress,
		"new_addr":            newAddr,
		"critical":            device.Critical,
		"action_taken":        decision.Action.actionTaken(),
		"old_connection_time": existing.ConnectedAt.Format(time.RFC3339),
	})
	if err := a.store.InsertAlert(&model.Alert{
		AlertType:        decision.Alert,
		DeviceSerialHash: device.SerialHash,
		Details:          string(details),
	}); err != nil {
		return decision, fmt.Errorf("record clone alert: %w", err)
	}

	a.recorder.Record(alertlog.Event{
		Timestamp:  time.Now(),
		Type:       decision.Alert,
		SerialHash: device.SerialHash,
		RemoteAddr: newAddr,
		Details: map[string]any{
			"old_addr": existing.IPAddress,
			"action":   decision.Action.actionTaken(),
		},
	})
	return decision, nil
}
