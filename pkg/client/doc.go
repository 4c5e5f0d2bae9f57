// Package client is the device-side SDK. A SecureClient opens a mutual-TLS
// MQTT session to the hub, announces itself on the registration topic, keeps
// a periodic health loop running and publishes telemetry. The controller
// side uses CommandPublisher to send commands at QoS 2.
package client
