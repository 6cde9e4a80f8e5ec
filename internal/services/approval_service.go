package services

import (
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/boostpay/backend/internal/models"
)

const uniqueViolation = "23505"

// ApprovalService owns the quorum approval lifecycle of payout requests:
// vote casting, veto detection, threshold detection and expiry detection.
// All status transitions are single conditioned writes so concurrent voters
// can never double-apply a transition.
type ApprovalService struct {
	db    *sql.DB
	audit *AuditService
}

func NewApprovalService(db *sql.DB, audit *AuditService) *ApprovalService {
	return &ApprovalService{
		db:    db,
		audit: audit,
	}
}

// CreatePayout records a new payment obligation together with its quorum
// ballot. The payout starts pending and only the approval engine (or the
// external disbursement step) may move it afterwards.
func (s *ApprovalService) CreatePayout(recipientID string, amount int64, requiredApprovals int, ttl time.Duration) (*models.PayoutRequest, *models.ApprovalRequest, error) {
	if amount <= 0 {
		return nil, nil, &PayoutError{Kind: KindValidation, Message: "amount must be positive"}
	}
	if requiredApprovals < 1 {
		return nil, nil, &PayoutError{Kind: KindValidation, Message: "required approvals must be at least 1"}
	}

	now := time.Now()
	payout := &models.PayoutRequest{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Amount:      amount,
		Status:      models.PayoutPending,
		CreatedAt:   now,
	}
	approval := &models.ApprovalRequest{
		ID:                uuid.NewString(),
		PayoutRequestID:   payout.ID,
		Status:            models.ApprovalPending,
		RequiredApprovals: requiredApprovals,
		ExpiresAt:         now.Add(ttl),
		CreatedAt:         now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO payout_requests (id, recipient_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		payout.ID, payout.RecipientID, payout.Amount, payout.Status, payout.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO approval_requests (id, payout_request_id, status, required_approvals, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		approval.ID, approval.PayoutRequestID, approval.Status, approval.RequiredApprovals,
		approval.ExpiresAt, approval.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := s.audit.RecordTx(tx, models.AuditEntry{
		PayoutID:   payout.ID,
		ApprovalID: approval.ID,
		Action:     models.AuditPayoutCreated,
		Details: map[string]any{
			"recipient_id":       payout.RecipientID,
			"amount":             payout.Amount,
			"required_approvals": approval.RequiredApprovals,
		},
	}); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	log.Printf("[APPROVAL] Created payout %s (approval %s, quorum %d)", payout.ID, approval.ID, requiredApprovals)
	return payout, approval, nil
}

// CastVote records one admin's ballot and evaluates consensus. A reject is a
// veto: the first one terminates the approval regardless of any threshold.
// Expiry is detected lazily here; a vote against an expired ballot flips it
// to expired and fails with an expiry error.
func (s *ApprovalService) CastVote(approvalID, adminID, vote, comment string) (*models.VoteResult, error) {
	if vote != models.VoteApprove && vote != models.VoteReject {
		return nil, ErrInvalidVote
	}

	approval, err := s.fetchApproval(approvalID)
	if err != nil {
		return nil, err
	}

	if approval.Status != models.ApprovalPending {
		return nil, notPendingError(approval.Status)
	}

	if !approval.ExpiresAt.After(time.Now()) {
		if err := s.transitionExpired(approval); err != nil {
			log.Printf("[APPROVAL] Failed to expire approval %s: %v", approvalID, err)
			return nil, err
		}
		return nil, expiredError(approval.ExpiresAt)
	}

	voteID, err := s.insertVote(approval, adminID, vote, comment)
	if err != nil {
		return nil, err
	}

	// Recount from the committed votes table, never from a cached counter,
	// so concurrent deciding votes observe a consistent tally.
	counts, err := s.countVotes(approvalID)
	if err != nil {
		return nil, err
	}

	result := &models.VoteResult{
		VoteID:            voteID,
		Vote:              vote,
		ApprovalStatus:    models.ApprovalPending,
		VoteCounts:        counts,
		RequiredApprovals: approval.RequiredApprovals,
	}

	if vote == models.VoteReject {
		if err := s.transitionRejected(approval, adminID, comment); err != nil {
			return nil, err
		}
		result.ApprovalStatus = models.ApprovalRejected
		return result, nil
	}

	if counts.Approve >= approval.RequiredApprovals {
		crossed, err := s.transitionApproved(approval, adminID, counts.Approve)
		if err != nil {
			return nil, err
		}
		result.ApprovalStatus = models.ApprovalApproved
		// Exactly one voter observes the threshold crossing; a concurrent
		// duplicate attempt is a harmless no-op with no second audit entry.
		result.CanExecute = crossed
	}

	return result, nil
}

// GetApproval returns the ballot with its current tally.
func (s *ApprovalService) GetApproval(approvalID string) (*models.ApprovalRequest, models.VoteCounts, error) {
	approval, err := s.fetchApproval(approvalID)
	if err != nil {
		return nil, models.VoteCounts{}, err
	}

	counts, err := s.countVotes(approvalID)
	if err != nil {
		return nil, models.VoteCounts{}, err
	}

	return approval, counts, nil
}

// ExpireStale sweeps pending approvals past their deadline so a ballot that
// never receives another vote still resolves. Safe to run concurrently with
// vote traffic: each transition is conditioned on the row still pending.
func (s *ApprovalService) ExpireStale() (int, error) {
	rows, err := s.db.Query(`
		SELECT id, payout_request_id, status, required_approvals, expires_at
		FROM approval_requests
		WHERE status = $1 AND expires_at <= $2`,
		models.ApprovalPending, time.Now())
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var stale []*models.ApprovalRequest
	for rows.Next() {
		a := &models.ApprovalRequest{}
		if err := rows.Scan(&a.ID, &a.PayoutRequestID, &a.Status, &a.RequiredApprovals, &a.ExpiresAt); err != nil {
			return 0, err
		}
		stale = append(stale, a)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	expired := 0
	for _, approval := range stale {
		if err := s.transitionExpired(approval); err != nil {
			log.Printf("[APPROVAL] Expiry sweep failed for approval %s: %v", approval.ID, err)
			continue
		}
		expired++
	}

	if expired > 0 {
		log.Printf("[APPROVAL] Expiry sweep resolved %d stale approval(s)", expired)
	}
	return expired, nil
}

func (s *ApprovalService) fetchApproval(approvalID string) (*models.ApprovalRequest, error) {
	approval := &models.ApprovalRequest{}
	var reason sql.NullString
	err := s.db.QueryRow(`
		SELECT id, payout_request_id, status, required_approvals, expires_at, rejection_reason
		FROM approval_requests
		WHERE id = $1`, approvalID).Scan(
		&approval.ID, &approval.PayoutRequestID, &approval.Status,
		&approval.RequiredApprovals, &approval.ExpiresAt, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	approval.RejectionReason = reason.String
	return approval, nil
}

// insertVote relies on the unique (approval_id, admin_id) constraint to
// reject duplicates, rather than a racy check-then-insert. The vote and its
// audit entry commit together.
func (s *ApprovalService) insertVote(approval *models.ApprovalRequest, adminID, vote, comment string) (string, error) {
	voteID := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO approval_votes (id, approval_id, admin_id, vote, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		voteID, approval.ID, adminID, vote, comment, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			tx.Rollback()
			return "", s.duplicateVoteError(approval.ID, adminID)
		}
		return "", err
	}

	if err := s.audit.RecordTx(tx, models.AuditEntry{
		PayoutID:   approval.PayoutRequestID,
		ApprovalID: approval.ID,
		Action:     models.AuditVoteCast,
		ActorID:    adminID,
		Details:    map[string]any{"vote": vote, "comment": comment},
	}); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	log.Printf("[APPROVAL] Vote %s recorded: approval=%s admin=%s vote=%s", voteID, approval.ID, adminID, vote)
	return voteID, nil
}

func (s *ApprovalService) duplicateVoteError(approvalID, adminID string) error {
	var priorVote string
	var votedAt time.Time
	err := s.db.QueryRow(`
		SELECT vote, created_at FROM approval_votes
		WHERE approval_id = $1 AND admin_id = $2`,
		approvalID, adminID).Scan(&priorVote, &votedAt)
	if err != nil {
		// Constraint fired but the row is not readable; still a conflict.
		return &PayoutError{Kind: KindConflict, Message: "admin has already voted on this approval"}
	}
	return alreadyVotedError(priorVote, votedAt)
}

func (s *ApprovalService) countVotes(approvalID string) (models.VoteCounts, error) {
	counts := models.VoteCounts{}
	err := s.db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE vote = 'approve'),
			COUNT(*) FILTER (WHERE vote = 'reject')
		FROM approval_votes
		WHERE approval_id = $1`, approvalID).Scan(&counts.Approve, &counts.Reject)
	return counts, err
}

// transitionRejected applies the veto: the approval and its linked payout
// both move to rejected in one transaction, carrying the voter's comment.
func (s *ApprovalService) transitionRejected(approval *models.ApprovalRequest, adminID, reason string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE approval_requests
		SET status = $1, rejection_reason = $2
		WHERE id = $3 AND status = $4`,
		models.ApprovalRejected, reason, approval.ID, models.ApprovalPending)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Another voter already resolved the ballot; nothing left to do.
		log.Printf("[APPROVAL] Rejection skipped, approval %s no longer pending", approval.ID)
		return nil
	}

	_, err = tx.Exec(`
		UPDATE payout_requests
		SET status = $1, rejection_reason = $2
		WHERE id = $3 AND status = $4`,
		models.PayoutRejected, reason, approval.PayoutRequestID, models.PayoutPending)
	if err != nil {
		return err
	}

	if err := s.audit.RecordTx(tx, models.AuditEntry{
		PayoutID:   approval.PayoutRequestID,
		ApprovalID: approval.ID,
		Action:     models.AuditRejected,
		ActorID:    adminID,
		Details:    map[string]any{"reason": reason},
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[APPROVAL] Approval %s vetoed by admin %s", approval.ID, adminID)
	return nil
}

// transitionApproved promotes the ballot once the quorum is met. Returns
// whether this caller performed the transition; under a concurrent crossing
// exactly one caller does, and only that caller writes the audit entry.
func (s *ApprovalService) transitionApproved(approval *models.ApprovalRequest, adminID string, approveCount int) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE approval_requests
		SET status = $1
		WHERE id = $2 AND status = $3`,
		models.ApprovalApproved, approval.ID, models.ApprovalPending)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.Exec(`
		UPDATE payout_requests
		SET status = $1
		WHERE id = $2 AND status = $3`,
		models.PayoutApproved, approval.PayoutRequestID, models.PayoutPending)
	if err != nil {
		return false, err
	}

	if err := s.audit.RecordTx(tx, models.AuditEntry{
		PayoutID:   approval.PayoutRequestID,
		ApprovalID: approval.ID,
		Action:     models.AuditApproved,
		ActorID:    adminID,
		Details:    map[string]any{"approve_count": approveCount, "required_approvals": approval.RequiredApprovals},
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	log.Printf("[APPROVAL] Approval %s reached quorum (%d/%d)", approval.ID, approveCount, approval.RequiredApprovals)
	return true, nil
}

func (s *ApprovalService) transitionExpired(approval *models.ApprovalRequest) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE approval_requests
		SET status = $1
		WHERE id = $2 AND status = $3`,
		models.ApprovalExpired, approval.ID, models.ApprovalPending)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Lazy detection and the scheduled sweep can race; first one wins.
		return tx.Commit()
	}

	if err := s.audit.RecordTx(tx, models.AuditEntry{
		PayoutID:   approval.PayoutRequestID,
		ApprovalID: approval.ID,
		Action:     models.AuditExpired,
		Details:    map[string]any{"expired_at": approval.ExpiresAt},
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[APPROVAL] Approval %s expired (deadline %s)", approval.ID, approval.ExpiresAt.Format(time.RFC3339))
	return nil
}
