// Package transport builds the hub's TLS material from PKCS#12 key and
// trust stores on disk. The broker listener and the optional HTTPS admin
// surface share the same material; both require and verify client
// certificates against the trust store.
package transport
