package core

import (
	"clinicflow/pkg/domain"
	"context"
	"errors"
	"fmt"
)

// PatientReferenceRule ensures every encounter points at a registered patient
// and never changes owner.
func PatientReferenceRule() domain.Rule {
	return patientReferenceRule{}
}

type patientReferenceRule struct{}

func (patientReferenceRule) Name() string { return "patient_reference" }

func (r patientReferenceRule) Evaluate(ctx context.Context, view domain.RuleView, change domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if change.Kind != domain.KindEncounter {
		return res, nil
	}
	block := func(msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  msg,
			Kind:     domain.KindEncounter,
			ID:       change.After.ID,
		})
	}
	if change.Before != nil {
		if change.Before.Ref != change.After.Ref {
			block(fmt.Sprintf("encounter %s cannot move from patient %s to %s", change.After.ID, change.Before.Ref, change.After.Ref))
		}
		return res, nil
	}
	if change.After.Ref == "" {
		block(fmt.Sprintf("encounter %s has no patient", change.After.ID))
		return res, nil
	}
	owner, err := view.Lookup(ctx, change.After.Ref)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		block(fmt.Sprintf("encounter %s references unknown patient %s", change.After.ID, change.After.Ref))
	case err != nil:
		return domain.Result{}, err
	case owner.Kind != domain.KindPatient:
		block(fmt.Sprintf("encounter %s references %s %s, not a patient", change.After.ID, owner.Kind, owner.ID))
	}
	return res, nil
}
