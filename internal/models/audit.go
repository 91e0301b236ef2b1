package models

import "time"

// Actor identifies who performs a mutation. Supplied by the caller's
// session context, trusted as pre-validated.
type Actor struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

// SystemActor is used for operational sweeps and reconciliation corrections.
var SystemActor = Actor{ID: 0, Role: RoleSystem}

// ResourceAuditLogEntry is one append-only row per pool mutation, written
// in the same transaction as the mutation itself.
type ResourceAuditLogEntry struct {
	ID           int64     `json:"id"`
	HospitalID   int64     `json:"hospital_id"`
	ResourceType string    `json:"resource_type"`
	Action       string    `json:"action"`
	OldValues    string    `json:"old_values"`
	NewValues    string    `json:"new_values"`
	ActorID      int64     `json:"actor_id"`
	ActorRole    string    `json:"actor_role"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	AuditActionRegister        = "register"
	AuditActionReserve         = "reserve"
	AuditActionRelease         = "release"
	AuditActionCommitOccupancy = "commit_occupancy"
	AuditActionReleaseOccupied = "release_occupancy"
	AuditActionAdjustTotal     = "adjust_total"
	AuditActionCorrection      = "reconciliation_correction"
)
