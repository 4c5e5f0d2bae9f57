// Package registry is the durable device registry: devices and their trust
// state, broker connections, security alerts, telemetry, audit rows and
// client bindings.
//
// The store exclusively owns row writes. Status transitions run inside an
// immediate transaction so that two concurrent admin actions on the same
// device serialize instead of interleaving. Idempotent inserts suppress
// unique-key violations by driver error code, never by message text.
package registry
