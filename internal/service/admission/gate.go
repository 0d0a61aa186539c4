package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/amberpages/classifieds/internal/domain"
)

// Defaults for the admission window. Three attempts per trailing hour per
// identity, matching the product's posting policy.
const (
	DefaultWindow      = time.Hour
	DefaultMaxAttempts = 3
)

// RecordFinder is the record-store capability the gate depends on: find one
// record where a field equals a value. Implementations return (nil, nil)
// when no record matches; an error means the store itself failed.
type RecordFinder interface {
	FindByField(ctx context.Context, field, value string) (*domain.Listing, error)
}

// Config tunes the gate. Zero values fall back to the defaults above.
type Config struct {
	Window      time.Duration
	MaxAttempts int
}

// Gate decides whether a submission may proceed and whether it should
// overwrite an existing record. Safe for concurrent use.
type Gate struct {
	store       RecordFinder
	log         AttemptLog
	window      time.Duration
	maxAttempts int
}

// NewGate creates an admission gate over the given record finder and
// attempt log.
func NewGate(store RecordFinder, log AttemptLog, cfg Config) *Gate {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Gate{
		store:       store,
		log:         log,
		window:      cfg.Window,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Window returns the configured admission window.
func (g *Gate) Window() time.Duration { return g.window }

// Check produces the admission decision for one submission. It performs no
// writes: the caller must record the attempt afterwards (RecordOutcome) for
// allowed decisions. Rate-limited attempts are deliberately not re-logged,
// so a submitter recovers as soon as the oldest retained attempt ages out
// rather than pushing their own window forward by retrying.
//
// The error return is non-nil only for store failures, wrapped with
// ErrStoreUnavailable; validation and rate-limit outcomes are expressed in
// the decision alone.
func (g *Gate) Check(ctx context.Context, identity domain.SubmissionIdentity, now time.Time) (domain.AdmissionDecision, error) {
	identity = identity.Normalize()
	if !identity.Valid() {
		return domain.AdmissionDecision{Allowed: false, Reason: domain.ReasonValidation}, nil
	}

	windowStart := now.Add(-g.window)
	count, oldest, err := g.log.CountSince(ctx, identity.Key(), windowStart)
	if err != nil {
		return domain.AdmissionDecision{Allowed: false, Reason: domain.ReasonStoreError},
			fmt.Errorf("%w: attempt log: %v", ErrStoreUnavailable, err)
	}

	if count >= g.maxAttempts {
		// Usable again once the oldest retained attempt leaves the window.
		retryAfter := oldest.Add(g.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return domain.AdmissionDecision{
			Allowed:    false,
			Reason:     domain.ReasonRateLimit,
			RetryAfter: retryAfter,
		}, nil
	}

	existing, err := g.findExisting(ctx, identity)
	if err != nil {
		return domain.AdmissionDecision{Allowed: false, Reason: domain.ReasonStoreError},
			fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if existing != nil {
		return domain.AdmissionDecision{Allowed: true, Overwrite: true, ExistingID: existing.ID}, nil
	}
	return domain.AdmissionDecision{Allowed: true, Overwrite: false}, nil
}

// RecordOutcome logs the attempt for an allowed decision. Validation and
// rate-limit rejections are never logged.
func (g *Gate) RecordOutcome(ctx context.Context, identity domain.SubmissionIdentity, decision domain.AdmissionDecision, now time.Time) error {
	if !decision.Allowed {
		return nil
	}
	return g.log.RecordAttempt(ctx, identity.Normalize().Key(), now)
}

// findExisting looks up a prior record by email first, then by user id.
func (g *Gate) findExisting(ctx context.Context, identity domain.SubmissionIdentity) (*domain.Listing, error) {
	rec, err := g.store.FindByField(ctx, domain.FieldEmail, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("find by email: %v", err)
	}
	if rec != nil {
		return rec, nil
	}
	rec, err = g.store.FindByField(ctx, domain.FieldUserID, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("find by user id: %v", err)
	}
	return rec, nil
}
