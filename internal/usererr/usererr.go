// Package usererr carries errors caused by what the user asked for, as
// opposed to failures of the repository or its storage.
package usererr

import "errors"

// Error is a refusal to act on the user's request. Nothing has been mutated
// when one is returned.
type Error struct {
	Message string
	Hint    string
}

func (e *Error) Error() string { return e.Message }

// New returns an Error with no hint.
func New(message string) *Error {
	return &Error{Message: message}
}

// WithHint returns an Error that suggests a way forward.
func WithHint(message, hint string) *Error {
	return &Error{Message: message, Hint: hint}
}

// As reports whether err wraps an *Error and returns it.
func As(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
