// Package config loads the hub configuration from a YAML file and applies
// the built-in defaults for anything left unset.
package config
