package script

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAFunction is returned when the handler source does not evaluate to a function.
	ErrNotAFunction = errors.New("script: handler source does not evaluate to a function")

	// ErrMalformedHandlerResult is matched by every *MalformedResultError.
	ErrMalformedHandlerResult = errors.New("script: malformed handler result")

	// ErrScriptFatal marks failures reported through the fatal error channel.
	// The context that produced one refuses further calls.
	ErrScriptFatal = errors.New("script: fatal runtime error")

	// ErrContextClosed is returned by Invoke after Close.
	ErrContextClosed = errors.New("script: context closed")
)

// MalformedResultError describes a handler return value that is not
// {code: integer, body: string|bytes}.
type MalformedResultError struct {
	Reason string
}

func (e *MalformedResultError) Error() string {
	return "script: malformed handler result: " + e.Reason
}

// Is matches ErrMalformedHandlerResult.
func (e *MalformedResultError) Is(target error) bool {
	return target == ErrMalformedHandlerResult
}

// HandlerError wraps an exception thrown by the handler.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("script: handler threw: %v", e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
