// Package identity derives the stable, one-way identifiers used to key the
// device registry, and encodes/decodes the MQTT clientId format that carries
// a partial device identity on the wire.
//
// Plaintext serials and MAC addresses never leave this package toward the
// store; all registry lookups go through the SHA-256 hashes produced here.
package identity
