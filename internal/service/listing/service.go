package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amberpages/classifieds/internal/domain"
	"github.com/amberpages/classifieds/internal/pkg/logger"
	"github.com/amberpages/classifieds/internal/service/admission"
)

// Lock is a best-effort mutual exclusion handle scoped to one identity.
// Satisfied by distlock.RedisLock.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory returns a lock for the given identity key. A nil factory
// disables cross-instance serialization; the store uniqueness constraints
// remain the authority either way.
type LockFactory func(key string) Lock

// SubmitOutcome bundles the admission decision with the write result.
// Result is nil when the submission was not admitted.
type SubmitOutcome struct {
	Decision domain.AdmissionDecision
	Result   *domain.UpsertResult
}

// Service implements the listing write path. Safe for concurrent use.
type Service struct {
	repo    Repository
	gate    *admission.Gate
	newLock LockFactory
}

// NewService creates a listing service over the given repository and
// admission gate.
func NewService(repo Repository, gate *admission.Gate) *Service {
	return &Service{repo: repo, gate: gate}
}

// SetLockFactory enables per-identity locking for multi-instance deployments.
func (s *Service) SetLockFactory(f LockFactory) { s.newLock = f }

// Get returns a listing by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Listing, error) {
	return s.repo.Get(ctx, id)
}

// Submit runs the full write path for one submission: admission check,
// attempt logging, then exactly one upsert. An insert that loses a race to a
// concurrent submission for the same identity surfaces as ErrDuplicate from
// the store; Submit treats that as an authoritative overwrite signal and
// retries once as an update against the record that won.
func (s *Service) Submit(ctx context.Context, identity domain.SubmissionIdentity, payload domain.Listing, now time.Time) (SubmitOutcome, error) {
	identity = identity.Normalize()

	if s.newLock != nil {
		if lock := s.newLock(identity.Key()); lock != nil {
			ok, err := lock.Acquire(ctx)
			if err != nil {
				logger.Warn("identity lock unavailable, proceeding unlocked",
					"user_id", identity.UserID, "error", err.Error())
			} else if ok {
				defer lock.Release(ctx)
			}
		}
	}

	decision, err := s.gate.Check(ctx, identity, now)
	if err != nil {
		return SubmitOutcome{Decision: decision}, err
	}
	if !decision.Allowed {
		return SubmitOutcome{Decision: decision}, nil
	}

	// Allowed attempts count against the cap whether or not the write lands.
	if err := s.gate.RecordOutcome(ctx, identity, decision, now); err != nil {
		return SubmitOutcome{Decision: decision}, fmt.Errorf("record attempt: %w", err)
	}

	payload.Email = identity.Email
	payload.UserID = identity.UserID

	result, err := s.Upsert(ctx, decision, payload, now)
	if errors.Is(err, ErrDuplicate) && !decision.Overwrite {
		result, err = s.retryAsUpdate(ctx, identity, payload, now)
	}
	if err != nil {
		return SubmitOutcome{Decision: decision}, err
	}
	return SubmitOutcome{Decision: decision, Result: &result}, nil
}

// Upsert performs exactly one write for an admitted decision: an update at
// the pinned existing id when the decision says overwrite, otherwise an
// insert. Re-invoking with the same overwrite decision is safe (each call is
// a distinct write; the store increments version by one per call).
func (s *Service) Upsert(ctx context.Context, decision domain.AdmissionDecision, payload domain.Listing, now time.Time) (domain.UpsertResult, error) {
	if !decision.Allowed {
		return domain.UpsertResult{}, ErrNotAdmitted
	}

	if decision.Overwrite {
		payload.UpdatedAt = now
		if err := s.repo.Update(ctx, decision.ExistingID, &payload); err != nil {
			return domain.UpsertResult{}, fmt.Errorf("update listing %s: %w", decision.ExistingID, err)
		}
		return domain.UpsertResult{ID: decision.ExistingID, Action: domain.ActionUpdated}, nil
	}

	if payload.ID == "" {
		payload.ID = uuid.New().String()
	}
	if payload.Status == "" {
		payload.Status = domain.ListingActive
	}
	payload.CreatedAt = now
	payload.UpdatedAt = now
	payload.Version = 1
	if err := s.repo.Insert(ctx, &payload); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return domain.UpsertResult{}, err
		}
		return domain.UpsertResult{}, fmt.Errorf("insert listing: %w", err)
	}
	return domain.UpsertResult{ID: payload.ID, Action: domain.ActionCreated}, nil
}

// retryAsUpdate resolves the record that won the insert race and applies the
// payload as an update. Runs at most once per submission.
func (s *Service) retryAsUpdate(ctx context.Context, identity domain.SubmissionIdentity, payload domain.Listing, now time.Time) (domain.UpsertResult, error) {
	existing, err := s.repo.FindByField(ctx, domain.FieldEmail, identity.Email)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("resolve conflicting listing: %w", err)
	}
	if existing == nil {
		existing, err = s.repo.FindByField(ctx, domain.FieldUserID, identity.UserID)
		if err != nil {
			return domain.UpsertResult{}, fmt.Errorf("resolve conflicting listing: %w", err)
		}
	}
	if existing == nil {
		// Constraint fired but the winner is gone already; report the
		// conflict and let the submitter retry the whole operation.
		return domain.UpsertResult{}, ErrDuplicate
	}

	logger.Info("insert conflict resolved as update",
		"listing_id", existing.ID, "user_id", identity.UserID)

	payload.ID = ""
	payload.UpdatedAt = now
	if err := s.repo.Update(ctx, existing.ID, &payload); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("conflict update listing %s: %w", existing.ID, err)
	}
	return domain.UpsertResult{ID: existing.ID, Action: domain.ActionUpdated}, nil
}
