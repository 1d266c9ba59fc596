package core

import (
	"errors"
	"fmt"
)

// Error codes for domain errors.
const (
	ErrCodeParse       = "parse_error"
	ErrCodeRateLimited = "rate_limited"
)

var (
	// ErrEmptyRoom is returned when a session is built without a room name.
	ErrEmptyRoom = errors.New("room name is required")
	// ErrParse marks inbound payloads that are not valid JSON.
	ErrParse = errors.New("malformed payload")
	// ErrNotJoined is returned when inbound data arrives outside the Joined state.
	ErrNotJoined = errors.New("session not joined")
	// ErrSessionClosed is returned by Deliver once the session has left its room.
	ErrSessionClosed = errors.New("session closed")
	// ErrQueueFull is returned by Deliver when the recipient's outbound queue is full.
	ErrQueueFull = errors.New("outbound queue full")
)

// ParseError wraps the decoder failure for a dropped inbound message.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", ErrParse.Error(), e.Err)
}

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
