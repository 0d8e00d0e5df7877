package service

import "errors"

// Error taxonomy for the synchronous operations. The HTTP layer maps these
// to status codes; messages stay generic so a Forbidden response does not
// reveal whether the resource exists for another user.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrForbidden    = errors.New("access denied")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("service unavailable")
)
