// Package ingest turns raw telemetry publishes into immutable measurement
// rows. Parsing is best-effort: the raw payload is always persisted, and
// structured fields (timestamp, measurement, value) are extracted when the
// payload happens to be well-formed JSON.
package ingest
