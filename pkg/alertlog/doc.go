// Package alertlog captures security events as a structured stream,
// independently of the durable alert rows in the registry.
//
// The registry answers "what happened to this device"; this package answers
// "what is the broker seeing right now". Sinks include an slog adapter for
// the console and an append-only CBOR file for offline analysis.
package alertlog
