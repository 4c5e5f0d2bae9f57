// Package version carries build metadata for the hub binaries.
package version

import "fmt"

// Set at build time via -ldflags "-X .../pkg/version.Version=... -X .../pkg/version.Commit=...".
var (
	// Version is the release version of this build.
	Version = "dev"

	// Commit is the VCS revision of this build.
	Commit = "unknown"
)

// String returns a human-readable build identifier, e.g. "hubcore dev (unknown)".
func String() string {
	return fmt.Sprintf("hubcore %s (%s)", Version, Commit)
}
