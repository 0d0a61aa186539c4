package domain

import "time"

// DenialReason enumerates why a submission was not admitted.
type DenialReason string

const (
	// ReasonValidation means the identity was missing required fields.
	ReasonValidation DenialReason = "validation"
	// ReasonRateLimit means the identity exceeded the attempt cap for the window.
	ReasonRateLimit DenialReason = "rate_limit"
	// ReasonStoreError means the record store lookup failed; retryable.
	ReasonStoreError DenialReason = "store_error"
)

// AdmissionDecision is the outcome of the admission gate for one submission.
// It is a pure value: the gate performs no writes while producing it.
type AdmissionDecision struct {
	Allowed    bool          `json:"allowed"`
	Overwrite  bool          `json:"overwrite"`
	ExistingID string        `json:"existing_id,omitempty"`
	Reason     DenialReason  `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// UpsertAction indicates which write the upsert performed.
type UpsertAction string

const (
	ActionCreated UpsertAction = "created"
	ActionUpdated UpsertAction = "updated"
)

// UpsertResult reports the record written and the action taken.
type UpsertResult struct {
	ID     string       `json:"id"`
	Action UpsertAction `json:"action"`
}
