package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/boostpay/backend/internal/models"
)

// AuditService appends lifecycle events to the payout audit log and pushes
// best-effort release notifications onto a Redis queue for downstream
// delivery (email etc. is an external collaborator).
type AuditService struct {
	db    *sql.DB
	redis *redis.Client
	queue string
}

func NewAuditService(db *sql.DB, redisClient *redis.Client, queue string) *AuditService {
	if queue == "" {
		queue = "payout_notification_queue"
	}
	return &AuditService{
		db:    db,
		redis: redisClient,
		queue: queue,
	}
}

// Record appends an audit entry outside any caller transaction.
func (as *AuditService) Record(entry models.AuditEntry) error {
	return as.record(as.db, entry)
}

// RecordTx appends an audit entry inside the caller's transaction so the
// entry commits or rolls back together with the state transition it records.
func (as *AuditService) RecordTx(tx *sql.Tx, entry models.AuditEntry) error {
	return as.record(tx, entry)
}

type sqlExecer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (as *AuditService) record(execer sqlExecer, entry models.AuditEntry) error {
	entry.CreatedAt = time.Now()

	var detailsJSON []byte
	if entry.Details != nil {
		detailsJSON, _ = json.Marshal(entry.Details)
	}

	_, err := execer.Exec(`
		INSERT INTO payout_audit_log (payout_id, approval_id, action, actor_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.PayoutID, entry.ApprovalID, entry.Action, entry.ActorID, detailsJSON, entry.CreatedAt)
	if err != nil {
		return err
	}

	data, _ := json.Marshal(entry)
	log.Printf("[AUDIT] %s", string(data))
	return nil
}

// EnqueueNotification pushes a release notification for downstream delivery.
// Failures are logged, never propagated: notification is best-effort.
func (as *AuditService) EnqueueNotification(ctx context.Context, n models.ReleaseNotification) {
	if as.redis == nil {
		log.Printf("[AUDIT] Redis unavailable, dropping notification for user %s", n.UserID)
		return
	}

	n.CreatedAt = time.Now()
	data, err := json.Marshal(n)
	if err != nil {
		log.Printf("[AUDIT] Failed to marshal notification for user %s: %v", n.UserID, err)
		return
	}

	if err := as.redis.RPush(ctx, as.queue, data).Err(); err != nil {
		log.Printf("[AUDIT] Failed to enqueue notification for user %s: %v", n.UserID, err)
	}
}
