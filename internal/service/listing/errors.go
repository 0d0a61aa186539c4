package listing

import "errors"

// Sentinel errors for the listing service layer.
var (
	// ErrNotFound is returned when a listing id does not exist.
	ErrNotFound = errors.New("listing not found")

	// ErrDuplicate is returned by Insert when a store uniqueness constraint
	// on email or user_id rejects the write. It is the authoritative signal
	// that the submission should have been an overwrite.
	ErrDuplicate = errors.New("listing already exists for identity")

	// ErrNotAdmitted is returned when Upsert is called with a decision that
	// was not allowed.
	ErrNotAdmitted = errors.New("submission was not admitted")
)
