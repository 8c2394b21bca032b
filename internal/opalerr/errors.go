// Package opalerr defines the error taxonomy shared across the runtime,
// so the RPC layer can map these types to JSON-RPC error codes in one
// place. Not every package uses them; an error of any other type reaches
// an RPC client as an internal error.
package opalerr

import "fmt"

// ValidationError signals missing or malformed RPC params.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func Validation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFound signals a session id, message id, or tool name that doesn't
// resolve.
type NotFound struct {
	Kind string // "session" | "message" | "tool" | ...
	ID   string
}

func (e *NotFound) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

func NewNotFound(kind, id string) *NotFound {
	return &NotFound{Kind: kind, ID: id}
}

// ProviderError wraps an LLM call failure (network, auth, rate-limit,
// malformed stream).
type ProviderError struct {
	Cause error
}

func (e *ProviderError) Error() string  { return fmt.Sprintf("provider error: %v", e.Cause) }
func (e *ProviderError) Unwrap() error   { return e.Cause }
func NewProviderError(cause error) *ProviderError {
	return &ProviderError{Cause: cause}
}

// ToolExecutionError wraps a tool's Err(msg) result. It is always recovered
// locally into a synthetic tool_result message; it never reaches the RPC
// boundary as an error response.
type ToolExecutionError struct {
	Tool    string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Message)
}

// CrashError wraps an internal task crash recovered by the supervisor.
type CrashError struct {
	Cause error
}

func (e *CrashError) Error() string { return fmt.Sprintf("crashed: %v", e.Cause) }
func (e *CrashError) Unwrap() error { return e.Cause }

// Timeout signals a sub-agent collection loop or provider stream idling
// past its threshold.
type Timeout struct {
	Operation string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout: %s", e.Operation) }

// BusUnavailable signals the event bus registry itself is gone. Fatal,
// never recovered.
type BusUnavailable struct{}

func (e *BusUnavailable) Error() string { return "event bus unavailable" }
