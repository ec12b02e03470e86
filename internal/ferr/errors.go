// Package ferr defines the error taxonomy of the federation core. Only
// PlanningError and corrupted-plan internal errors are fatal to an
// investigation; everything else degrades gracefully and is reflected in
// confidence scoring and the summary.
package ferr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fedprobe/internal/model"
)

// ErrSourceUnavailable marks a contained provider failure. Triggers the
// breaker and fallback handling, never surfaces as investigation failure.
var ErrSourceUnavailable = eris.New("source unavailable")

// ErrSourceTimeout marks a contained provider timeout.
var ErrSourceTimeout = eris.New("source timeout")

// ErrInvestigationNotFound is returned by the manager for unknown ids.
var ErrInvestigationNotFound = eris.New("investigation not found")

// ErrAlreadyRunning is returned when a start is issued for an id that
// already has an active execution.
var ErrAlreadyRunning = eris.New("investigation already running")

// PlanningError is fatal: a required domain has no registered capable
// source. Reported, not retried.
type PlanningError struct {
	Domain model.Domain
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning: no registered source serves domain %q", e.Domain)
}

// IsPlanning reports whether err is (or wraps) a PlanningError.
func IsPlanning(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe)
}

// PartialFailure records a stage that degraded. The investigation still
// completes; the degradation shows up in the summary.
type PartialFailure struct {
	StageID string
	Domain  model.Domain
	Reason  string
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("stage %s (%s) degraded: %s", e.StageID, e.Domain, e.Reason)
}

// InsufficientSample marks a detection check that was skipped because the
// cohort was too small. Recorded as "not evaluated", never fatal.
type InsufficientSample struct {
	Check string
	Have  int
	Need  int
}

func (e *InsufficientSample) Error() string {
	return fmt.Sprintf("%s: sample too small (%d < %d), check skipped", e.Check, e.Have, e.Need)
}

// IdentityConflict records two records sharing an identity key with
// irreconcilable fields. Resolved by tier priority and logged; never fatal.
type IdentityConflict struct {
	IdentityKey string
	Field       string
	Kept        any
	Discarded   any
}

func (e *IdentityConflict) Error() string {
	return fmt.Sprintf("identity %s: field %q conflict, kept %v over %v",
		e.IdentityKey, e.Field, e.Kept, e.Discarded)
}
