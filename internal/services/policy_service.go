package services

import (
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/boostpay/backend/internal/models"
)

const policyChangeWindow = 24 * time.Hour

// PolicyService resolves effective payout settings for an earning source and
// records rate-limited settings changes. Resolution is an explicit ordered
// lookup: boost override, then the owning brand's default, then zero.
type PolicyService struct {
	db *sql.DB
}

func NewPolicyService(db *sql.DB) *PolicyService {
	return &PolicyService{db: db}
}

// Resolve returns the effective policy for a source. An unknown source
// resolves to the zero policy: a permissive default is safer than blocking
// payouts on missing configuration.
func (s *PolicyService) Resolve(sourceID string) (models.EffectivePolicy, error) {
	effective := models.EffectivePolicy{}

	boostPolicy, err := s.fetchPolicy(models.PolicyEntityBoost, sourceID)
	if err != nil {
		return effective, err
	}

	var brandPolicy *models.PayoutPolicy
	if boostPolicy == nil || boostPolicy.HoldingDays == nil || boostPolicy.MinimumAmount == nil {
		brandID, err := s.owningBrand(sourceID)
		if err != nil {
			return effective, err
		}
		if brandID != "" {
			brandPolicy, err = s.fetchPolicy(models.PolicyEntityBrand, brandID)
			if err != nil {
				return effective, err
			}
		}
	}

	effective.HoldingDays = firstInt(boostPolicy, brandPolicy)
	effective.MinimumAmount = firstAmount(boostPolicy, brandPolicy)
	return effective, nil
}

// UpdateSettings validates and writes a policy change for a boost or brand,
// enforcing one change per entity per rolling 24 hours. Every accepted
// change also appends a settings-history row.
func (s *PolicyService) UpdateSettings(entityType, entityID, actorID string, holdingDays *int, minimumAmount *int64) error {
	if entityType != models.PolicyEntityBoost && entityType != models.PolicyEntityBrand {
		return &PayoutError{Kind: KindValidation, Message: "entity type must be boost or brand"}
	}
	if holdingDays == nil && minimumAmount == nil {
		return &PayoutError{Kind: KindValidation, Message: "no settings provided"}
	}
	if holdingDays != nil && (*holdingDays < 0 || *holdingDays > models.MaxHoldingDays) {
		return &PayoutError{Kind: KindValidation, Message: "holding days must be between 0 and 30"}
	}
	if minimumAmount != nil {
		if *minimumAmount < 0 || *minimumAmount > models.MaxMinimumAmount {
			return &PayoutError{Kind: KindValidation, Message: "minimum amount must be between 0 and 5000 cents"}
		}
		if *minimumAmount%models.MinimumAmountStep != 0 {
			return &PayoutError{Kind: KindValidation, Message: "minimum amount must be a multiple of 500 cents"}
		}
	}

	if err := s.authorizeChange(entityType, entityID, actorID); err != nil {
		return err
	}

	existing, err := s.fetchPolicy(entityType, entityID)
	if err != nil {
		return err
	}
	if existing != nil && existing.UpdatedAt != nil {
		elapsed := time.Since(*existing.UpdatedAt)
		if elapsed < policyChangeWindow {
			return rateLimitedError(policyChangeWindow - elapsed)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.Exec(`
		INSERT INTO payout_policies (entity_type, entity_id, holding_days, minimum_amount, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_type, entity_id) DO UPDATE
		SET holding_days = COALESCE($3, payout_policies.holding_days),
		    minimum_amount = COALESCE($4, payout_policies.minimum_amount),
		    updated_at = $5`,
		entityType, entityID, holdingDays, minimumAmount, now)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO payout_policy_history (entity_type, entity_id, actor_id, holding_days, minimum_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entityType, entityID, actorID, holdingDays, minimumAmount, now)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[POLICY] Settings updated: %s %s by %s", entityType, entityID, actorID)
	return nil
}

// History returns the append-only settings changelog, newest first.
func (s *PolicyService) History(entityType, entityID string) ([]models.PolicyChange, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_type, entity_id, actor_id, holding_days, minimum_amount, created_at
		FROM payout_policy_history
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []models.PolicyChange{}
	for rows.Next() {
		c := models.PolicyChange{}
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.ActorID, &c.HoldingDays, &c.MinimumAmount, &c.CreatedAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// SourceEnded reports whether the boost behind a source has closed. Ended
// sources release held funds regardless of the minimum threshold.
func (s *PolicyService) SourceEnded(sourceID string) (bool, error) {
	var endAt sql.NullTime
	var status string
	err := s.db.QueryRow(`
		SELECT end_at, status FROM boosts WHERE id = $1`, sourceID).Scan(&endAt, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if status == "ended" || status == "closed" {
		return true, nil
	}
	return endAt.Valid && endAt.Time.Before(time.Now()), nil
}

func (s *PolicyService) fetchPolicy(entityType, entityID string) (*models.PayoutPolicy, error) {
	p := &models.PayoutPolicy{EntityType: entityType, EntityID: entityID}
	err := s.db.QueryRow(`
		SELECT id, holding_days, minimum_amount, updated_at
		FROM payout_policies
		WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID).Scan(&p.ID, &p.HoldingDays, &p.MinimumAmount, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (s *PolicyService) owningBrand(sourceID string) (string, error) {
	var brandID string
	err := s.db.QueryRow(`
		SELECT brand_id FROM boosts WHERE id = $1`, sourceID).Scan(&brandID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return brandID, nil
}

// authorizeChange requires the actor to be an admin of the owning brand, or
// for a boost-level override, the boost's creator counterpart.
func (s *PolicyService) authorizeChange(entityType, entityID, actorID string) error {
	brandID := entityID
	if entityType == models.PolicyEntityBoost {
		var creatorID sql.NullString
		err := s.db.QueryRow(`
			SELECT brand_id, creator_id FROM boosts WHERE id = $1`, entityID).Scan(&brandID, &creatorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrSourceNotFound
			}
			return err
		}
		if creatorID.Valid && creatorID.String == actorID {
			return nil
		}
	}

	var isAdmin bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM brand_admins WHERE brand_id = $1 AND admin_id = $2)`,
		brandID, actorID).Scan(&isAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return &PayoutError{Kind: KindForbidden, Message: "actor is not authorized to change payout settings"}
	}
	return nil
}

func firstInt(policies ...*models.PayoutPolicy) int {
	for _, p := range policies {
		if p != nil && p.HoldingDays != nil {
			return *p.HoldingDays
		}
	}
	return 0
}

func firstAmount(policies ...*models.PayoutPolicy) int64 {
	for _, p := range policies {
		if p != nil && p.MinimumAmount != nil {
			return *p.MinimumAmount
		}
	}
	return 0
}
