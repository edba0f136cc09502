package engine

import (
	"errors"
	"fmt"
)

// Error represents an engine-level error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Channel string    `json:"channel,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("%s: %s (channel: %s)", e.Type, e.Message, e.Channel)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrUnavailable is a structural "cannot serve this request at all"
	// signal from the primary channel. It triggers fallback, never a
	// user-visible error on its own.
	ErrUnavailable ErrorType = "unavailable_error"

	// ErrStream is a mid-or-before streaming failure on either channel.
	// It is user-visible and removes the placeholder message.
	ErrStream ErrorType = "stream_error"

	// ErrBusy is returned when a turn is submitted while another is in
	// flight. The conversation log is not touched.
	ErrBusy ErrorType = "busy_error"

	// ErrClosed is returned when operating on a closed engine or channel.
	ErrClosed ErrorType = "closed_error"
)

// NewUnavailableError creates an unavailable signal for a channel.
func NewUnavailableError(channel string) *Error {
	return &Error{
		Type:    ErrUnavailable,
		Message: "channel cannot serve this request",
		Channel: channel,
	}
}

// NewStreamError creates a user-visible streaming error.
func NewStreamError(channel, message string) *Error {
	return &Error{
		Type:    ErrStream,
		Message: message,
		Channel: channel,
	}
}

// NewStreamErrorFrom wraps an underlying error as a streaming error.
func NewStreamErrorFrom(channel string, cause error) *Error {
	return &Error{
		Type:    ErrStream,
		Message: cause.Error(),
		Channel: channel,
		Cause:   cause,
	}
}

// NewBusyError creates an error for a rejected concurrent submission.
func NewBusyError(state TurnState) *Error {
	return &Error{
		Type:    ErrBusy,
		Message: fmt.Sprintf("turn already in flight (state: %s)", state),
	}
}

// NewClosedError creates an error for operations on a closed component.
func NewClosedError(what string) *Error {
	return &Error{
		Type:    ErrClosed,
		Message: what + " closed",
	}
}

// IsUnavailable reports whether err is a structural unavailable signal,
// as opposed to a genuine streaming error.
func IsUnavailable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrUnavailable
}

// IsBusy reports whether err is a rejected concurrent submission.
func IsBusy(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrBusy
}
