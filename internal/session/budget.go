package session

import "github.com/anthropics/midstream/internal/domain"

// Governor enforces the continuation budget for sessions.
type Governor struct {
	// WarnRatio is the fraction of budget at which a warning is issued (default 0.8).
	WarnRatio float64
	// HaltRatio is the fraction of budget at which continuation is halted (default 1.0).
	HaltRatio float64
}

// NewGovernor creates a governor with standard thresholds.
func NewGovernor() *Governor {
	return &Governor{
		WarnRatio: 0.8,
		HaltRatio: 1.0,
	}
}

// Assess returns the action for a session that has already issued used of max
// continuation requests. A max of zero or less disables the budget.
func (g *Governor) Assess(used, max int) domain.BudgetAction {
	if max <= 0 {
		return domain.BudgetContinue
	}
	ratio := float64(used) / float64(max)
	if ratio >= g.HaltRatio {
		return domain.BudgetHalt
	}
	if ratio >= g.WarnRatio {
		return domain.BudgetWarn
	}
	return domain.BudgetContinue
}
