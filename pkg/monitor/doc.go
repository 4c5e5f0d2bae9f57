// Package monitor watches for silent devices. A periodic scan compares
// each device's last health check against an offline threshold and raises
// DEVICE_OFFLINE alerts for devices that stopped reporting.
package monitor
