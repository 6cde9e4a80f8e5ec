package models

import (
	"time"
)

// Ledger entry statuses
const (
	LedgerHeld    = "held"
	LedgerPending = "pending"
	LedgerPaid    = "paid"
)

// Earning source types
const (
	SourceBoost    = "boost"
	SourceCampaign = "campaign"
)

// LedgerEntry tracks a per-recipient, per-source running balance.
// Invariant: AccruedAmount >= PaidAmount; outstanding = accrued - paid.
type LedgerEntry struct {
	ID            int        `json:"id" db:"id"`
	UserID        string     `json:"user_id" db:"user_id"`
	SourceID      string     `json:"source_id" db:"source_id"`
	SourceType    string     `json:"source_type" db:"source_type"`
	AccruedAmount int64      `json:"accrued_amount" db:"accrued_amount"` // in cents
	PaidAmount    int64      `json:"paid_amount" db:"paid_amount"`
	Status        string     `json:"status" db:"status"`
	ReleaseAt     *time.Time `json:"release_at,omitempty" db:"release_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Outstanding returns the unpaid portion of the entry, never negative.
func (e *LedgerEntry) Outstanding() int64 {
	if e.AccruedAmount <= e.PaidAmount {
		return 0
	}
	return e.AccruedAmount - e.PaidAmount
}

// ReleaseReport summarizes a single release scheduler run.
type ReleaseReport struct {
	ReleasedCount       int   `json:"released_count"`
	SkippedCount        int   `json:"skipped_count"`
	TotalAmountReleased int64 `json:"total_amount_released"`
	UsersNotified       int   `json:"users_notified"`
}
