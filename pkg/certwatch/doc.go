// Package certwatch schedules broker restarts when TLS material should be
// re-read: on a jittered rotation timer and when the key or trust store
// files change on disk.
package certwatch
