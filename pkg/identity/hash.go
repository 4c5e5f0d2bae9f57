package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 of s.
// Deterministic and unsalted: the result is a stable registry key.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashComposite returns Hash(serial + "|" + mac), the unique registry key
// for a device identity.
func HashComposite(serial, mac string) string {
	return Hash(serial + "|" + mac)
}
