package rpc

import (
	"errors"

	"github.com/opencode-ai/opal/internal/opalerr"
	"github.com/opencode-ai/opal/internal/permission"
)

// mapError turns a handler error into the JSON-RPC error it crosses the
// boundary as. No handler error is ever allowed to propagate unmapped:
// ValidationError, NotFound and permission.RejectedError all carry -32602
// per the spec's reuse of InvalidParams for semantic failures; anything else — a crash, a
// provider error reaching the handler directly instead of going out as
// a bus event — becomes -32603.
func mapError(err error) *Error {
	if err == nil {
		return nil
	}

	var validation *opalerr.ValidationError
	if errors.As(err, &validation) {
		return &Error{Code: CodeInvalidParams, Message: validation.Message}
	}

	var notFound *opalerr.NotFound
	if errors.As(err, &notFound) {
		return &Error{Code: CodeInvalidParams, Message: notFound.Error()}
	}

	var rejected *permission.RejectedError
	if errors.As(err, &rejected) {
		return &Error{Code: CodeInvalidParams, Message: rejected.Error()}
	}

	var busGone *opalerr.BusUnavailable
	if errors.As(err, &busGone) {
		return &Error{Code: CodeInternalError, Message: busGone.Error()}
	}

	return &Error{Code: CodeInternalError, Message: err.Error()}
}
