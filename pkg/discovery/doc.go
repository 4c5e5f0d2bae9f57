// Package discovery advertises the hub's TLS MQTT endpoint over mDNS so
// devices on the local network can find it without static configuration.
package discovery
