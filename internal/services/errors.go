package services

import (
	"errors"
	"fmt"
	"time"
)

// Machine-readable error kinds surfaced in API responses.
const (
	KindValidation  = "validation"
	KindNotFound    = "not_found"
	KindConflict    = "conflict"
	KindForbidden   = "forbidden"
	KindExpired     = "expired"
	KindRateLimited = "rate_limited"
	KindInternal    = "internal"
)

var (
	ErrApprovalNotFound = &PayoutError{Kind: KindNotFound, Message: "approval request not found"}
	ErrSourceNotFound   = &PayoutError{Kind: KindNotFound, Message: "source not found"}
	ErrInvalidVote      = &PayoutError{Kind: KindValidation, Message: "vote must be approve or reject"}
)

// PayoutError carries a machine-readable kind plus a human-readable message
// and optional structured detail (prior vote, current status, wait time).
type PayoutError struct {
	Kind    string
	Message string
	Details map[string]any
}

func (e *PayoutError) Error() string {
	return e.Message
}

// ErrorKind classifies err for the HTTP layer. Unknown errors are internal.
func ErrorKind(err error) string {
	var pe *PayoutError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// ErrorDetails returns the structured detail payload of err, if any.
func ErrorDetails(err error) map[string]any {
	var pe *PayoutError
	if errors.As(err, &pe) {
		return pe.Details
	}
	return nil
}

func notPendingError(status string) *PayoutError {
	return &PayoutError{
		Kind:    KindConflict,
		Message: fmt.Sprintf("approval request already resolved: %s", status),
		Details: map[string]any{"current_status": status},
	}
}

func expiredError(expiresAt time.Time) *PayoutError {
	return &PayoutError{
		Kind:    KindExpired,
		Message: "approval request has expired",
		Details: map[string]any{"expired_at": expiresAt},
	}
}

func alreadyVotedError(priorVote string, votedAt time.Time) *PayoutError {
	return &PayoutError{
		Kind:    KindConflict,
		Message: "admin has already voted on this approval",
		Details: map[string]any{"existing_vote": priorVote, "voted_at": votedAt},
	}
}

func rateLimitedError(wait time.Duration) *PayoutError {
	return &PayoutError{
		Kind:    KindRateLimited,
		Message: "payout settings can only be changed once per 24 hours",
		Details: map[string]any{"retry_after_seconds": int(wait.Seconds())},
	}
}
