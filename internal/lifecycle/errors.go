package lifecycle

import "errors"

var (
	// ErrIllegalTransition is a caller error: the event is not allowed from the current status.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrStateConflict means the application moved while the caller was acting on it.
	// Callers re-read and retry a bounded number of times.
	ErrStateConflict = errors.New("state conflict")

	// ErrAlreadyResolved is returned when the work was already done. Callers treat it as
	// a no-op success.
	ErrAlreadyResolved = errors.New("already resolved")

	ErrProviderError       = errors.New("payment provider error")
	ErrNotificationFailure = errors.New("notification failure")
	ErrNotFound            = errors.New("not found")
	ErrInvalidEvent        = errors.New("invalid event")
	ErrPaymentOutstanding  = errors.New("a payment is already in progress")
	ErrForbidden           = errors.New("not allowed for this user")
)
