package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Failure kinds reported by learning components. Transient kinds are worth
// retrying; fatal kinds indicate a defect that retrying cannot fix.
const (
	KindTimeout         = "timeout"
	KindRateLimit       = "rate_limit"
	KindConnectionReset = "connection_reset"
	KindMalformedInput  = "malformed_input"
	KindAuthentication  = "authentication"
)

// LearnerError is a classified failure from the learning component.
type LearnerError struct {
	Class string
	Kind  string
	Err   error
}

func (e *LearnerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s", e.Class, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Class, e.Kind, e.Err)
}

func (e *LearnerError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *LearnerError) Transient() bool { return e.Class == ErrorClassTransient }

// NewTransientError wraps err as a retryable learner failure.
func NewTransientError(kind string, err error) *LearnerError {
	return &LearnerError{Class: ErrorClassTransient, Kind: kind, Err: err}
}

// NewFatalError wraps err as a non-retryable learner failure.
func NewFatalError(kind string, err error) *LearnerError {
	return &LearnerError{Class: ErrorClassFatal, Kind: kind, Err: err}
}

// Classify returns the error class and kind for err. A plain deadline
// expiry counts as a transient timeout. Unclassified errors return ("", "")
// and are treated as fatal by callers.
func Classify(err error) (class, kind string) {
	var le *LearnerError
	if errors.As(err, &le) {
		return le.Class, le.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTransient, KindTimeout
	}
	return "", ""
}

// JSON-RPC error codes and symbolic types used on the component wire.
const (
	ErrInvalidTask    = 1001
	ErrAuthentication = 1002
	ErrComponentError = 2001
	ErrInternalError  = 3001
	ErrTimeout        = 3002
	ErrRateLimit      = 3003

	ErrTypeInvalidTask    = "INVALID_TASK"
	ErrTypeAuthentication = "AUTHENTICATION"
	ErrTypeComponentError = "COMPONENT_ERROR"
	ErrTypeInternalError  = "INTERNAL_ERROR"
	ErrTypeTimeout        = "TIMEOUT"
	ErrTypeRateLimit      = "RATE_LIMIT"
)

// NewRPCError constructs an RPCError with the given fields.
func NewRPCError(code int, message string, errorType string, retryable bool, detail string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data: &ErrorData{
			ErrorType: errorType,
			Retryable: retryable,
			Detail:    detail,
		},
	}
}

// NewErrorResponse constructs a JSON-RPC error response.
func NewErrorResponse(id int64, err *RPCError) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   err,
	}
}

// NewSuccessResponse constructs a JSON-RPC success response from a result value.
func NewSuccessResponse(id int64, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  raw,
	}, nil
}
