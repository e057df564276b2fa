// Package govern implements admission control: per-user-tier and per-type
// concurrent-activity ceilings checked synchronously before a job enters
// its queue.
package govern

import (
	"genforge/internal/errs"
	"genforge/internal/models"
)

// ActiveCounts reports currently active work. The dispatcher implements
// it by scanning in-flight tasks.
type ActiveCounts interface {
	UserActive(userID string) int
	TypeActive(jobType string) int
}

// Governor holds the configured ceilings. A missing user tier falls back
// to the default ceiling; a missing type ceiling means unlimited.
type Governor struct {
	userTierLimits map[string]int
	defaultLimit   int
	typeLimits     map[string]int
}

func NewGovernor(userTierLimits map[string]int, defaultUserLimit int, typeLimits map[string]int) *Governor {
	return &Governor{
		userTierLimits: userTierLimits,
		defaultLimit:   defaultUserLimit,
		typeLimits:     typeLimits,
	}
}

// Admit decides whether a job may enter its queue. Rejection is a
// synchronous admission failure carrying current/limit context; the job
// is never silently dropped.
func (g *Governor) Admit(job *models.Job, active ActiveCounts) error {
	userLimit, ok := g.userTierLimits[job.UserTier]
	if !ok {
		userLimit = g.defaultLimit
	}
	if userLimit > 0 {
		if current := active.UserActive(job.SubmittedBy); current >= userLimit {
			return &errs.ConcurrencyLimitError{
				Scope:   "user",
				Key:     job.SubmittedBy,
				Current: current,
				Limit:   userLimit,
			}
		}
	}

	if typeLimit, ok := g.typeLimits[job.Type]; ok && typeLimit > 0 {
		if current := active.TypeActive(job.Type); current >= typeLimit {
			return &errs.ConcurrencyLimitError{
				Scope:   "type",
				Key:     job.Type,
				Current: current,
				Limit:   typeLimit,
			}
		}
	}

	return nil
}
