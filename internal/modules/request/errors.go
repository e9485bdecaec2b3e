// README: Request lifecycle sentinel errors, mapped to HTTP status codes by the handlers.
package request

import "errors"

var (
	ErrInvalidInput       = errors.New("please provide all required details")
	ErrUnauthorized       = errors.New("not authorized")
	ErrNotFound           = errors.New("request not found")
	ErrRequestUnavailable = errors.New("request is no longer available")
	ErrCapacityExceeded   = errors.New("active job limit reached, complete one before taking more")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyReviewed    = errors.New("you have already reviewed this job")
	ErrConflict           = errors.New("request state conflict")
)
