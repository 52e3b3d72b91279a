package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrModelInvocation marks every failure of the model call itself. The
	// caller must render it as a failure state, never as an answer.
	ErrModelInvocation = errors.New("model invocation failed")

	// ErrMalformedOutput is returned when the model produced neither text
	// nor a usable tool call.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrEmptyMessage rejects blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong rejects input over the configured character limit.
	ErrMessageTooLong = errors.New("message too long")
)

// ModelError describes a failed model call. It matches ErrModelInvocation
// with errors.Is and unwraps to the provider error.
type ModelError struct {
	Stage string // "resolve", "complete", "stream", "output"
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s (%s, %s): %v", ErrModelInvocation, e.Stage, e.Model, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", ErrModelInvocation, e.Stage, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

func (e *ModelError) Is(target error) bool { return target == ErrModelInvocation }

// IsInputError reports whether err is a request validation failure.
func IsInputError(err error) bool {
	return errors.Is(err, ErrEmptyMessage) || errors.Is(err, ErrMessageTooLong)
}
