// Package pairing issues short-lived one-shot codes and persists the
// client bindings a successful pairing produces. Codes live only in
// process memory; bindings are durable registry rows.
package pairing
