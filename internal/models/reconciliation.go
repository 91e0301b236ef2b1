package models

import "time"

// ReconciliationRecord is emitted per detected mismatch (and one summary
// row per run). A record always exists even when the action is flag-only.
type ReconciliationRecord struct {
	ID               int64     `json:"id"`
	RunID            string    `json:"run_id"`
	Scope            string    `json:"scope"` // resource, financial
	Subject          string    `json:"subject"`
	ExpectedValue    int64     `json:"expected_value"`
	ActualValue      int64     `json:"actual_value"`
	Discrepancy      int64     `json:"discrepancy"`
	ResolutionAction string    `json:"resolution_action"`
	CreatedAt        time.Time `json:"created_at"`
}

const (
	ResolutionCorrected = "auto_corrected"
	ResolutionFlagged   = "flagged"
	ResolutionNone      = "none"
)
