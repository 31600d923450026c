// Package errors provides the structured error types used throughout the
// bridge.
//
// Every error carries a Phase (where it occurred) and a Kind (what went
// wrong). The Kind set mirrors the bridge's failure taxonomy: caller misuse
// (invalid_input, jsonrpc_disabled, already_removed), retryable capacity
// exhaustion (queue_full), terminal instance failure (crashed,
// already_destroyed), and internal consistency faults (internal_fault).
//
// Sentinel values such as ErrQueueFull and ErrCrashed are provided for
// errors.Is checks:
//
//	if errors.Is(err, berrors.ErrQueueFull) {
//	    // back off and retry
//	}
package errors
