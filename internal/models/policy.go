package models

import (
	"time"
)

// Policy entity types
const (
	PolicyEntityBoost = "boost"
	PolicyEntityBrand = "brand"
)

// Policy bounds. Amounts are cents: minimum release threshold runs
// $0 to $50 in $5 increments.
const (
	MaxHoldingDays    = 30
	MaxMinimumAmount  = 5000
	MinimumAmountStep = 500
)

// PayoutPolicy holds the effective release settings for a boost or its
// owning brand. A nil field means "inherit" (boost -> brand -> zero).
type PayoutPolicy struct {
	ID            int        `json:"id" db:"id"`
	EntityType    string     `json:"entity_type" db:"entity_type"`
	EntityID      string     `json:"entity_id" db:"entity_id"`
	HoldingDays   *int       `json:"holding_days,omitempty" db:"holding_days"`
	MinimumAmount *int64     `json:"minimum_amount,omitempty" db:"minimum_amount"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// EffectivePolicy is the fully resolved policy applied to a source.
type EffectivePolicy struct {
	HoldingDays   int   `json:"holding_days"`
	MinimumAmount int64 `json:"minimum_amount"`
}

// PolicyChange is one row of the settings history. Never overwritten.
type PolicyChange struct {
	ID            int       `json:"id" db:"id"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	ActorID       string    `json:"actor_id" db:"actor_id"`
	HoldingDays   *int      `json:"holding_days,omitempty" db:"holding_days"`
	MinimumAmount *int64    `json:"minimum_amount,omitempty" db:"minimum_amount"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
