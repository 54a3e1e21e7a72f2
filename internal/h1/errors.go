package h1

import (
	"errors"
	"fmt"
)

// Parse error codes. A *ParseError matches its code through errors.Is.
var (
	ErrInvalidMethod        = errors.New("invalid method")
	ErrInvalidURL           = errors.New("invalid URL")
	ErrInvalidVersion       = errors.New("invalid HTTP version")
	ErrInvalidHeaderToken   = errors.New("invalid header token")
	ErrInvalidContentLength = errors.New("invalid content-length")
	ErrInvalidChunkSize     = errors.New("invalid chunk size")
	ErrStrictCRLF           = errors.New("expected CRLF")
	ErrClosedConnection     = errors.New("data after connection close")
	ErrCallback             = errors.New("callback failed")
)

var (
	// ErrFieldTooLarge is returned when a URL, header name or header value
	// grows past the configured accumulation cap.
	ErrFieldTooLarge = errors.New("field exceeds accumulation limit")

	// ErrAssemblerOutOfSync means message-complete arrived without any URL
	// bytes; the tokenizer and the assembler disagree about the message.
	ErrAssemblerOutOfSync = errors.New("message completed without URL")

	// ErrConnectionClosed is returned when data arrives for a torn down connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// ParseError reports where and why the tokenizer stopped.
type ParseError struct {
	Code   error
	Reason string
	// Offset is the index into the slice passed to Execute.
	Offset int

	cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at pos: %d", e.Reason, e.Offset)
}

// Is matches the error code.
func (e *ParseError) Is(target error) bool {
	return target == e.Code
}

// Unwrap returns the callback error for ErrCallback failures.
func (e *ParseError) Unwrap() error {
	return e.cause
}
