package models

import (
	"encoding/json"
	"time"

	"genforge/internal/state"
)

// PriorityTier orders dispatch precedence. Tiers are strictly ordered
// high > normal > low; the numeric encoding is internal and not part of
// the contract.
type PriorityTier string

const (
	TierHigh   PriorityTier = "high"
	TierNormal PriorityTier = "normal"
	TierLow    PriorityTier = "low"
)

// Tiers lists all tiers in dispatch order, highest first.
var Tiers = []PriorityTier{TierHigh, TierNormal, TierLow}

func (t PriorityTier) Valid() bool {
	return t == TierHigh || t == TierNormal || t == TierLow
}

type Job struct {
	ID            string
	Type          string
	Tier          PriorityTier
	Payload       json.RawMessage
	Status        state.JobStatus
	AttemptsMade  int
	MaxAttempts   int
	Dependencies  []string
	SubmittedBy   string
	UserTier      string
	Progress      int
	Timeout       time.Duration
	DelayUntil    *time.Time
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ResultSummary string
	LastError     string
}
