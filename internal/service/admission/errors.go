package admission

import "errors"

// Sentinel errors for the admission service layer.
var (
	// ErrStoreUnavailable wraps record store I/O failures. Callers should
	// surface these as retryable, never as a rate limit.
	ErrStoreUnavailable = errors.New("record store unavailable")
)
