// Package auth holds the broker's trust decisions: resolving a client
// identity to a registry outcome, the duplicate-connection (clone) policy,
// and the per-topic authorization rules.
//
// The package never writes registry rows except through the narrow
// operations the policy requires (closing sessions, the automatic BLOCKED
// transition, alert rows).
package auth
