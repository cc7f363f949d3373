package core

import "clinicflow/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set
// enforced by every store backend on each write.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(PatientReferenceRule())
	return engine
}
