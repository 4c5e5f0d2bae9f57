package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ClientID layout: "IOT" + last 4 of serial + first 6 hex chars of the MAC
// (separators stripped). An optional suffix distinguishes auxiliary sessions.
const (
	clientIDPrefix  = "IOT"
	serialTailLen   = 4
	macPrefixLen    = 6
	minClientIDLen  = len(clientIDPrefix) + serialTailLen + macPrefixLen
	serialYearStamp = "IOT-2025-"
)

// Well-known non-device client identities.
const (
	// ControllerClientID is the exact clientId of the command controller.
	ControllerClientID = "controller-cmd"

	// AdminClientPrefix marks operator/admin MQTT clients.
	AdminClientPrefix = "ADMIN_"
)

var (
	// ErrMalformedClientID reports a clientId that does not carry a full
	// IOT<serial tail><mac prefix> identity.
	ErrMalformedClientID = errors.New("malformed device clientId")

	macRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)
)

// ValidMAC reports whether mac is a six-octet hardware address with ":" or
// "-" separators, case-insensitive.
func ValidMAC(mac string) bool {
	return macRe.MatchString(mac)
}

// ClientID derives the device clientId from a full serial and MAC.
func ClientID(serial, mac string) string {
	flat := strings.NewReplacer(":", "", "-", "").Replace(mac)
	return clientIDPrefix + serial[len(serial)-serialTailLen:] + flat[:macPrefixLen]
}

// ClientIDWithSuffix derives a clientId for an auxiliary session.
func ClientIDWithSuffix(serial, mac, suffix string) string {
	return ClientID(serial, mac) + suffix
}

// ClientClass is the role a clientId maps to.
type ClientClass uint8

const (
	// ClassUnknown is any clientId outside the recognized grammars. The TLS
	// layer has already authenticated the certificate, but the client holds
	// no role and gets no ACL rights.
	ClassUnknown ClientClass = iota

	// ClassDevice is an IOT-prefixed device session.
	ClassDevice

	// ClassController is the single command controller.
	ClassController

	// ClassAdmin is an operator client.
	ClassAdmin
)

// String returns the class name.
func (c ClientClass) String() string {
	switch c {
	case ClassDevice:
		return "DEVICE"
	case ClassController:
		return "CONTROLLER"
	case ClassAdmin:
		return "ADMIN"
	default:
		return "UNKNOWN"
	}
}

// Classify maps a clientId to its role. Exact match classifies the
// controller; prefixes classify admin and device clients.
func Classify(clientID string) ClientClass {
	switch {
	case clientID == ControllerClientID:
		return ClassController
	case strings.HasPrefix(clientID, AdminClientPrefix):
		return ClassAdmin
	case strings.HasPrefix(clientID, clientIDPrefix):
		return ClassDevice
	default:
		return ClassUnknown
	}
}

// ParsedClientID is the identity a device clientId encodes.
type ParsedClientID struct {
	// Serial is the reconstructed nominal serial ("IOT-2025-" + tail).
	Serial string

	// SerialTail is the 4-character serial suffix carried verbatim.
	SerialTail string

	// MACPrefix is the first three octets, formatted "AA:BB:CC". The full
	// MAC is only known after the device registers.
	MACPrefix string

	// Suffix is any trailing session discriminator, possibly empty.
	Suffix string
}

// ParseClientID decodes a device clientId. The id must carry the full fixed
// layout; anything shorter is rejected rather than guessed at.
func ParseClientID(clientID string) (ParsedClientID, error) {
	if !strings.HasPrefix(clientID, clientIDPrefix) {
		return ParsedClientID{}, fmt.Errorf("%w: %q lacks %s prefix", ErrMalformedClientID, clientID, clientIDPrefix)
	}
	if len(clientID) < minClientIDLen {
		return ParsedClientID{}, fmt.Errorf("%w: %q is shorter than %d characters", ErrMalformedClientID, clientID, minClientIDLen)
	}

	tail := clientID[len(clientIDPrefix) : len(clientIDPrefix)+serialTailLen]
	macFlat := clientID[len(clientIDPrefix)+serialTailLen : minClientIDLen]
	for _, r := range macFlat {
		if !isHex(r) {
			return ParsedClientID{}, fmt.Errorf("%w: %q has non-hex MAC prefix", ErrMalformedClientID, clientID)
		}
	}

	return ParsedClientID{
		Serial:     serialYearStamp + tail,
		SerialTail: tail,
		MACPrefix:  macFlat[0:2] + ":" + macFlat[2:4] + ":" + macFlat[4:6],
		Suffix:     clientID[minClientIDLen:],
	}, nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
