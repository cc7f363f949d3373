package core

import (
	"clinicflow/pkg/domain"
	"context"
	"fmt"
)

// LifecycleTransitionRule blocks unknown encounter statuses and any write that
// moves an encounter out of its terminal state. Edge-by-edge checks belong to
// the EncounterEngine; this rule guards the store against writers that bypass it.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (r lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, change domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if change.Kind != domain.KindEncounter {
		return res, nil
	}
	after := domain.EncounterStatus(change.After.Status)
	if !after.Valid() {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("encounter %s is set to invalid status %q", change.After.ID, after),
			Kind:     domain.KindEncounter,
			ID:       change.After.ID,
		})
		return res, nil
	}
	if change.Before == nil {
		if after != domain.StatusWaitingForConsult {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("encounter %s must be created in %s, got %s", change.After.ID, domain.StatusWaitingForConsult, after),
				Kind:     domain.KindEncounter,
				ID:       change.After.ID,
			})
		}
		return res, nil
	}
	before := domain.EncounterStatus(change.Before.Status)
	if before.Terminal() && after != before {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("cannot move encounter %s from terminal status %s to %s", change.After.ID, before, after),
			Kind:     domain.KindEncounter,
			ID:       change.After.ID,
		})
	}
	return res, nil
}
