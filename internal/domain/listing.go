package domain

import (
	"strings"
	"time"
)

// ListingStatus enumerates the states a listing can be in.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingPaused    ListingStatus = "paused"
	ListingRemoved   ListingStatus = "removed"
	ListingUnderflag ListingStatus = "flagged"
)

// Listing represents a single classified listing record. At most one active
// listing exists per submitter email and per submitter user id; the record
// stores enforce this with uniqueness constraints.
type Listing struct {
	ID           string        `json:"id" db:"id"`
	Email        string        `json:"email" db:"email"`
	UserID       string        `json:"user_id" db:"user_id"`
	Title        string        `json:"title" db:"title"`
	Category     string        `json:"category" db:"category"`
	Description  string        `json:"description" db:"description"`
	PriceCents   int64         `json:"price_cents" db:"price_cents"`
	City         string        `json:"city" db:"city"`
	Region       string        `json:"region" db:"region"`
	Country      string        `json:"country" db:"country"`
	ContactPhone string        `json:"contact_phone" db:"contact_phone"`
	MediaKeys    []string      `json:"media_keys" db:"media_keys"`
	Status       ListingStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Version   int64     `json:"version" db:"version"`
}

// Lookup fields supported by the record stores' find-by-field-equality
// operation. These are the only fields with uniqueness semantics.
const (
	FieldEmail  = "email"
	FieldUserID = "user_id"
)

// SubmissionIdentity is the composite key a submission is attributed to.
// It is used for admission decisions and duplicate lookup only; it is never
// persisted as its own entity.
type SubmissionIdentity struct {
	Email  string `json:"email"`
	UserID string `json:"user_id"`
}

// Normalize lowercases and trims the identity fields.
func (id SubmissionIdentity) Normalize() SubmissionIdentity {
	return SubmissionIdentity{
		Email:  strings.ToLower(strings.TrimSpace(id.Email)),
		UserID: strings.TrimSpace(id.UserID),
	}
}

// Valid reports whether both identity fields are present.
func (id SubmissionIdentity) Valid() bool {
	return id.Email != "" && id.UserID != ""
}

// Key returns the attempt-log key for this identity.
func (id SubmissionIdentity) Key() string {
	return id.Email + "|" + id.UserID
}
