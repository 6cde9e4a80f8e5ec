package models

import (
	"time"
)

// Payout request statuses
const (
	PayoutPending  = "pending"
	PayoutApproved = "approved"
	PayoutRejected = "rejected"
	PayoutPaid     = "paid"
)

// Approval request statuses. Once non-pending the status never changes.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalExpired  = "expired"
)

// Vote values
const (
	VoteApprove = "approve"
	VoteReject  = "reject"
)

type PayoutRequest struct {
	ID              string    `json:"id" db:"id"`
	RecipientID     string    `json:"recipient_id" db:"recipient_id"`
	Amount          int64     `json:"amount" db:"amount"` // in cents
	Status          string    `json:"status" db:"status"`
	RejectionReason string    `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

type ApprovalRequest struct {
	ID                string    `json:"id" db:"id"`
	PayoutRequestID   string    `json:"payout_request_id" db:"payout_request_id"`
	Status            string    `json:"status" db:"status"`
	RequiredApprovals int       `json:"required_approvals" db:"required_approvals"`
	ExpiresAt         time.Time `json:"expires_at" db:"expires_at"`
	RejectionReason   string    `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Vote is immutable once cast. One row per (approval_id, admin_id),
// enforced by a unique constraint in the database.
type Vote struct {
	ID         string    `json:"id" db:"id"`
	ApprovalID string    `json:"approval_id" db:"approval_id"`
	AdminID    string    `json:"admin_id" db:"admin_id"`
	Vote       string    `json:"vote" db:"vote"`
	Comment    string    `json:"comment,omitempty" db:"comment"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// VoteCounts is the tally recomputed from the votes table after every insert.
type VoteCounts struct {
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
}

// VoteResult is returned to the caller of CastVote.
type VoteResult struct {
	VoteID            string     `json:"vote_id"`
	Vote              string     `json:"vote"`
	ApprovalStatus    string     `json:"approval_status"`
	VoteCounts        VoteCounts `json:"vote_counts"`
	RequiredApprovals int        `json:"required_approvals"`
	CanExecute        bool       `json:"can_execute"`
}
