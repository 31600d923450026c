package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseValidate   Phase = "validate"   // option validation
	PhaseInit       Phase = "init"       // engine construction
	PhaseDispatch   Phase = "dispatch"   // event dispatch
	PhaseRPC        Phase = "rpc"        // JSON-RPC request/response path
	PhaseConnection Phase = "connection" // network connection handling
	PhaseShutdown   Phase = "shutdown"   // termination
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindAlreadyRemoved   Kind = "already_removed"
	KindAlreadyDestroyed Kind = "already_destroyed"
	KindJSONRPCDisabled  Kind = "jsonrpc_disabled"
	KindQueueFull        Kind = "queue_full"
	KindCrashed          Kind = "crashed"
	KindAddChainFailed   Kind = "add_chain_failed"
	KindInternalFault    Kind = "internal_fault"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two bridge errors match when
// their Kind matches; Phase is compared only when the target sets one.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind && (t.Phase == "" || e.Phase == t.Phase)
	}
	return false
}

// Sentinels for errors.Is checks. Phase is left empty so they match the
// corresponding Kind regardless of where it arose.
var (
	ErrAlreadyDestroyed = &Error{Kind: KindAlreadyDestroyed}
	ErrAlreadyRemoved   = &Error{Kind: KindAlreadyRemoved}
	ErrQueueFull        = &Error{Kind: KindQueueFull}
	ErrCrashed          = &Error{Kind: KindCrashed}
	ErrJSONRPCDisabled  = &Error{Kind: KindJSONRPCDisabled}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// Convenience constructors for common error patterns

// InvalidInput creates a caller-misuse error raised before any command is issued
func InvalidInput(detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s not found", what),
	}
}

// AlreadyRemoved reports an operation on a chain the caller already removed
func AlreadyRemoved(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlreadyRemoved,
		Detail: "chain has already been removed",
	}
}

// AlreadyDestroyed is the generic terminal error attached on clean termination
func AlreadyDestroyed() *Error {
	return &Error{
		Phase:  PhaseShutdown,
		Kind:   KindAlreadyDestroyed,
		Detail: "the client has already been destroyed",
	}
}

// Crashed wraps the crash cause as the instance's terminal error
func Crashed(cause error) *Error {
	return &Error{
		Phase: PhaseDispatch,
		Kind:  KindCrashed,
		Cause: cause,
	}
}

// QueueFull reports that the engine's JSON-RPC request queue is full.
// The condition is retryable, not terminal.
func QueueFull(chainID uint32) *Error {
	return &Error{
		Phase:  PhaseRPC,
		Kind:   KindQueueFull,
		Detail: fmt.Sprintf("JSON-RPC request queue of chain %d is full", chainID),
	}
}

// JSONRPCDisabled reports a JSON-RPC operation on a chain created with
// JSON-RPC disabled
func JSONRPCDisabled() *Error {
	return &Error{
		Phase:  PhaseRPC,
		Kind:   KindJSONRPCDisabled,
		Detail: "JSON-RPC is disabled for this chain",
	}
}

// AddChainFailed wraps the engine's failure message for an add-chain request
func AddChainFailed(message string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindAddChainFailed,
		Detail: message,
	}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
