// Package model defines the registry entities: devices, connections,
// security alerts, telemetry records, audit rows and client bindings.
//
// Status and type enumerations are tagged variants internally; their string
// forms exist only for the persistence and wire layers.
package model
