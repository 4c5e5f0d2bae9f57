// Package broker runs the embedded MQTT broker and its security surface.
//
// The Service owns the mochi-mqtt server lifecycle behind an idempotent
// Start/Stop pair so the certificate rotator can restart it at will. The
// SecurityHook wires CONNECT authentication, topic ACL checks and publish
// interception into the server; the Interceptor behind it tracks sessions,
// processes registration and health messages on a bounded worker pool, and
// forwards telemetry to the ingest pipeline.
package broker
