package engine

import "errors"

// ErrEngineClosed is returned by Service calls after Close.
var ErrEngineClosed = errors.New("engine closed")

// ValidationError rejects a request before any state is read or written.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
