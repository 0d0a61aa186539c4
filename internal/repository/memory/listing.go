// Package memory implements the listing repository as a mutex-guarded map.
// It backs local development and tests; it enforces the same uniqueness and
// version semantics as the durable stores so behavior doesn't diverge.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/amberpages/classifieds/internal/domain"
	"github.com/amberpages/classifieds/internal/service/listing"
)

// ListingRepo implements listing.Repository in process memory.
type ListingRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.Listing
}

// NewListingRepo creates an empty in-memory listing repository.
func NewListingRepo() *ListingRepo {
	return &ListingRepo{records: make(map[string]*domain.Listing)}
}

func (r *ListingRepo) Get(_ context.Context, id string) (*domain.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, listing.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *ListingRepo) FindByField(_ context.Context, field, value string) (*domain.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.Status == domain.ListingRemoved {
			continue
		}
		if (field == domain.FieldEmail && rec.Email == value) ||
			(field == domain.FieldUserID && rec.UserID == value) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ListingRepo) Insert(_ context.Context, rec *domain.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		// A removed listing frees its identity, same as the partial unique
		// indexes in the Postgres schema.
		if existing.Status == domain.ListingRemoved {
			continue
		}
		if existing.Email == rec.Email || existing.UserID == rec.UserID {
			return listing.ErrDuplicate
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *ListingRepo) Update(_ context.Context, id string, rec *domain.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[id]
	if !ok {
		return listing.ErrNotFound
	}
	cp := *rec
	cp.ID = id
	cp.CreatedAt = existing.CreatedAt
	cp.Version = existing.Version + 1
	r.records[id] = &cp
	return nil
}
