// Package postgres implements the listing repository against PostgreSQL.
//
// Uniqueness of email and user_id is enforced by unique indexes (see
// migrations/001_listings.sql); a 23505 from either surfaces as
// listing.ErrDuplicate so the service can retry the write as an update.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/amberpages/classifieds/internal/domain"
	"github.com/amberpages/classifieds/internal/service/listing"
)

// ListingRepo implements listing.Repository against PostgreSQL.
type ListingRepo struct{ db *sql.DB }

// NewListingRepo creates a Postgres-backed listing repository.
func NewListingRepo(db *sql.DB) *ListingRepo { return &ListingRepo{db: db} }

const listingColumns = `id, email, user_id, title, category, description, price_cents,
	city, region, country, contact_phone, media_keys, status, created_at, updated_at, version`

func (r *ListingRepo) Get(ctx context.Context, id string) (*domain.Listing, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	rec, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, listing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return rec, nil
}

func (r *ListingRepo) FindByField(ctx context.Context, field, value string) (*domain.Listing, error) {
	// Field names come from domain constants, never from user input.
	switch field {
	case domain.FieldEmail, domain.FieldUserID:
	default:
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE `+field+` = $1 AND status != 'removed'`,
		value)
	rec, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing by %s: %w", field, err)
	}
	return rec, nil
}

func (r *ListingRepo) Insert(ctx context.Context, rec *domain.Listing) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, rec.ID, rec.Email, rec.UserID, rec.Title, rec.Category, rec.Description,
		rec.PriceCents, rec.City, rec.Region, rec.Country, rec.ContactPhone,
		pq.Array(rec.MediaKeys), rec.Status, rec.CreatedAt, rec.UpdatedAt, rec.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return listing.ErrDuplicate
		}
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (r *ListingRepo) Update(ctx context.Context, id string, rec *domain.Listing) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE listings SET
			title = $2, category = $3, description = $4, price_cents = $5,
			city = $6, region = $7, country = $8, contact_phone = $9,
			media_keys = $10, status = $11, updated_at = $12,
			version = version + 1
		WHERE id = $1
	`, id, rec.Title, rec.Category, rec.Description, rec.PriceCents,
		rec.City, rec.Region, rec.Country, rec.ContactPhone,
		pq.Array(rec.MediaKeys), rec.Status, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return listing.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var rec domain.Listing
	var media pq.StringArray
	err := row.Scan(&rec.ID, &rec.Email, &rec.UserID, &rec.Title, &rec.Category,
		&rec.Description, &rec.PriceCents, &rec.City, &rec.Region, &rec.Country,
		&rec.ContactPhone, &media, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.Version)
	if err != nil {
		return nil, err
	}
	rec.MediaKeys = media
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
