package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrNotFound     = errors.New("not found")
	ErrNoBids       = errors.New("no bids found for auction")
	ErrStaleAuction = errors.New("auction record changed concurrently")
)

// business logic errors
var (
	ErrInvalidState  = errors.New("invalid auction state")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidAmount = errors.New("invalid bid amount")
	ErrConflict      = errors.New("conflict")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
)

// transient errors, the caller may retry
var (
	ErrBusy = errors.New("auction is busy, retry later")
)

// IsTransient reports whether err is safe to retry as-is.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrStaleAuction)
}
