package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/boostpay/backend/internal/models"
)

// ReleaseService promotes held ledger entries to payable once their holding
// period has passed and the per-source minimum is met. Runs on a schedule
// and is safe to re-invoke: rows already moved out of held are excluded from
// the next selection, and every promotion is a conditioned write.
type ReleaseService struct {
	db            *sql.DB
	policy        *PolicyService
	audit         *AuditService
	maxPartitions int
}

// NewReleaseService wires the release batch. maxPartitions caps how many
// (user, source) partitions one run will process; zero means no cap.
func NewReleaseService(db *sql.DB, policy *PolicyService, audit *AuditService, maxPartitions int) *ReleaseService {
	return &ReleaseService{
		db:            db,
		policy:        policy,
		audit:         audit,
		maxPartitions: maxPartitions,
	}
}

type partitionKey struct {
	userID   string
	sourceID string
}

// ReleaseHeldFunds runs one release batch. sourceID scopes a manual run to a
// single source; empty means system-wide. A failure in one (user, source)
// partition is logged and skipped, never aborts the run.
func (s *ReleaseService) ReleaseHeldFunds(ctx context.Context, sourceID string) (*models.ReleaseReport, error) {
	entries, err := s.selectDueEntries(sourceID, time.Now())
	if err != nil {
		return nil, err
	}

	report := &models.ReleaseReport{}
	if len(entries) == 0 {
		log.Printf("[RELEASE] No held entries due for release")
		return report, nil
	}

	partitions := map[partitionKey][]*models.LedgerEntry{}
	order := []partitionKey{}
	for _, entry := range entries {
		key := partitionKey{userID: entry.UserID, sourceID: entry.SourceID}
		if _, seen := partitions[key]; !seen {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], entry)
	}

	if s.maxPartitions > 0 && len(order) > s.maxPartitions {
		log.Printf("[RELEASE] Capping run to %d of %d partitions", s.maxPartitions, len(order))
		order = order[:s.maxPartitions]
	}

	releasedByUser := map[string]int64{}
	sourcesByUser := map[string]int{}

	for _, key := range order {
		rows := partitions[key]

		policy, err := s.policy.Resolve(key.sourceID)
		if err != nil {
			log.Printf("[RELEASE] Failed to resolve policy for source %s: %v", key.sourceID, err)
			report.SkippedCount += len(rows)
			continue
		}

		var pendingTotal int64
		for _, row := range rows {
			pendingTotal += row.Outstanding()
		}

		// The threshold check is all-or-nothing per (user, source): either
		// the whole partition releases or every row in it stays held.
		if policy.MinimumAmount > 0 && pendingTotal < policy.MinimumAmount {
			ended, err := s.policy.SourceEnded(key.sourceID)
			if err != nil {
				log.Printf("[RELEASE] Failed to check source %s: %v", key.sourceID, err)
				report.SkippedCount += len(rows)
				continue
			}
			if !ended {
				log.Printf("[RELEASE] Skipping %s/%s: %d below minimum %d",
					key.userID, key.sourceID, pendingTotal, policy.MinimumAmount)
				report.SkippedCount += len(rows)
				continue
			}
		}

		released, amount, err := s.releasePartition(key, rows)
		if err != nil {
			log.Printf("[RELEASE] Failed to release partition %s/%s: %v", key.userID, key.sourceID, err)
			report.SkippedCount += len(rows)
			continue
		}

		report.ReleasedCount += released
		report.TotalAmountReleased += amount
		if amount > 0 {
			releasedByUser[key.userID] += amount
			sourcesByUser[key.userID]++
		}
	}

	for userID, amount := range releasedByUser {
		s.audit.EnqueueNotification(ctx, models.ReleaseNotification{
			UserID:         userID,
			AmountReleased: amount,
			SourceCount:    sourcesByUser[userID],
		})
		report.UsersNotified++
	}

	log.Printf("[RELEASE] Run complete: released=%d skipped=%d amount=%d users=%d",
		report.ReleasedCount, report.SkippedCount, report.TotalAmountReleased, report.UsersNotified)
	return report, nil
}

func (s *ReleaseService) selectDueEntries(sourceID string, now time.Time) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, user_id, source_id, source_type, accrued_amount, paid_amount
		FROM ledger_entries
		WHERE status = $1 AND release_at <= $2`
	args := []any{models.LedgerHeld, now}

	if sourceID != "" {
		query += ` AND source_id = $3`
		args = append(args, sourceID)
	}
	query += ` ORDER BY user_id, source_id, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.LedgerEntry{}
	for rows.Next() {
		e := &models.LedgerEntry{Status: models.LedgerHeld}
		if err := rows.Scan(&e.ID, &e.UserID, &e.SourceID, &e.SourceType, &e.AccruedAmount, &e.PaidAmount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// releasePartition promotes every row of one partition held -> pending. Each
// update is conditioned on the row still being held, so a concurrent
// disbursement or a second scheduler run cannot double-release: zero rows
// affected means already handled and the row is dropped from the totals.
func (s *ReleaseService) releasePartition(key partitionKey, rows []*models.LedgerEntry) (int, int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	released := 0
	var amount int64
	releasedIDs := []int{}

	for _, row := range rows {
		result, err := tx.Exec(`
			UPDATE ledger_entries
			SET status = $1, release_at = NULL, updated_at = $2
			WHERE id = $3 AND status = $4`,
			models.LedgerPending, time.Now(), row.ID, models.LedgerHeld)
		if err != nil {
			return 0, 0, err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return 0, 0, err
		}
		if affected == 0 {
			continue
		}

		released++
		amount += row.Outstanding()
		releasedIDs = append(releasedIDs, row.ID)
	}

	if released > 0 {
		if err := s.audit.RecordTx(tx, models.AuditEntry{
			Action: models.AuditReleased,
			Details: map[string]any{
				"user_id":          key.userID,
				"source_id":        key.sourceID,
				"ledger_entry_ids": releasedIDs,
				"amount":           amount,
			},
		}); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	return released, amount, nil
}
