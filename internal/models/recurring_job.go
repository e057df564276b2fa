package models

import (
	"encoding/json"
	"time"
)

type RecurringJob struct {
	ID         int64
	JobType    string
	Tier       PriorityTier
	Payload    json.RawMessage
	Expression string
	IsActive   bool
	LastError  string
	CreatedAt  time.Time
	LastRunAt  time.Time
	NextRunAt  time.Time
}
