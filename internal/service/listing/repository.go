package listing

import (
	"context"

	"github.com/amberpages/classifieds/internal/domain"
)

// Repository defines the data access contract for listings.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single listing. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Listing, error)

	// FindByField returns the listing where the field equals the value, or
	// (nil, nil) when none matches. Supported fields are domain.FieldEmail
	// and domain.FieldUserID.
	FindByField(ctx context.Context, field, value string) (*domain.Listing, error)

	// Insert creates a new listing. Returns ErrDuplicate if a uniqueness
	// constraint on email or user_id rejects the row.
	Insert(ctx context.Context, rec *domain.Listing) error

	// Update replaces the mutable fields of the listing with the given id
	// and increments its version atomically at the store (never
	// read-modify-write). Returns ErrNotFound if the id doesn't exist.
	Update(ctx context.Context, id string, rec *domain.Listing) error
}
