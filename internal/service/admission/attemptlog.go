package admission

import (
	"context"
	"time"
)

// AttemptLog tracks submission attempts per identity key. Implementations
// must be safe for concurrent use. The in-process implementation in this
// package suits single-instance deployments; the Redis implementation shares
// state across instances.
type AttemptLog interface {
	// RecordAttempt appends an attempt timestamp for the key.
	RecordAttempt(ctx context.Context, key string, t time.Time) error

	// CountSince returns the number of attempts strictly after since, and
	// the timestamp of the oldest such attempt. An attempt at exactly since
	// is treated as expired. When count is zero, oldest is the zero time.
	CountSince(ctx context.Context, key string, since time.Time) (count int, oldest time.Time, err error)
}
