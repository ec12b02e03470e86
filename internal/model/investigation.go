package model

import "time"

// InvestigationStatus is the lifecycle state of an investigation.
type InvestigationStatus string

const (
	InvestigationPending   InvestigationStatus = "pending"
	InvestigationRunning   InvestigationStatus = "running"
	InvestigationCompleted InvestigationStatus = "completed"
	InvestigationFailed    InvestigationStatus = "failed"
	InvestigationCancelled InvestigationStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s InvestigationStatus) Terminal() bool {
	switch s {
	case InvestigationCompleted, InvestigationFailed, InvestigationCancelled:
		return true
	}
	return false
}

// StageDegradation records a stage that finished degraded rather than clean.
// Captured in investigation metadata; never fatal.
type StageDegradation struct {
	StageID string `json:"stage_id"`
	Domain  Domain `json:"domain"`
	Reason  string `json:"reason"`
}

// Investigation is the final assembled result, owned exclusively by the
// investigation manager. Exactly one active execution per id at any time.
type Investigation struct {
	ID              string              `json:"id"`
	Intent          Intent              `json:"intent"`
	Status          InvestigationStatus `json:"status"`
	Plan            *ExecutionPlan      `json:"plan,omitempty"`
	Records         []AggregatedRecord  `json:"aggregated_records,omitempty"`
	Findings        []AnomalyFinding    `json:"findings,omitempty"`
	Networks        []SuspiciousNetwork `json:"networks,omitempty"`
	Degradations    []StageDegradation  `json:"degradations,omitempty"`
	SkippedChecks   []string            `json:"skipped_checks,omitempty"`
	Summary         string              `json:"summary,omitempty"`
	ConfidenceScore float64             `json:"confidence_score"`
	Error           string              `json:"error,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
}
