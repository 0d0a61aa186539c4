// Package admission implements the submission admission gate.
//
// Every listing write passes through the gate first. For a given submitter
// identity (email + user id) the gate decides whether the write may proceed,
// whether it should overwrite an existing record, or whether it must be
// rejected for exceeding the attempt cap inside the trailing window.
//
// The gate itself is side-effect free: Check reads the attempt log and the
// record store but never writes to either. The caller records the attempt
// and performs the store write as separate steps, which keeps the decision
// testable against fixed state and lets callers retry transient failures by
// re-running the whole operation.
package admission
