package models

import (
	"time"
)

// Audit actions emitted by the approval engine and release scheduler.
// Every state transition writes exactly one audit row.
const (
	AuditPayoutCreated = "payout_created"
	AuditVoteCast      = "vote_cast"
	AuditApproved      = "approved"
	AuditRejected      = "rejected"
	AuditExpired       = "expired"
	AuditReleased      = "released"
)

// AuditEntry is an append-only lifecycle record. Never updated or deleted.
type AuditEntry struct {
	ID         int            `json:"id" db:"id"`
	PayoutID   string         `json:"payout_id" db:"payout_id"`
	ApprovalID string         `json:"approval_id,omitempty" db:"approval_id"`
	Action     string         `json:"action" db:"action"`
	ActorID    string         `json:"actor_id,omitempty" db:"actor_id"`
	Details    map[string]any `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// ReleaseNotification is the per-user payload pushed onto the notification
// queue after a scheduler run. Downstream delivery is best-effort.
type ReleaseNotification struct {
	UserID         string    `json:"user_id"`
	AmountReleased int64     `json:"amount_released"`
	SourceCount    int       `json:"source_count"`
	CreatedAt      time.Time `json:"created_at"`
}
