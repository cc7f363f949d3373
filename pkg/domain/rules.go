package domain

import "context"

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks the write.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows the write.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action indicates the type of modification performed.
type Action string

// Change actions captured for rule evaluation.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Change describes a single document write about to be committed.
type Change struct {
	Kind   Kind
	Action Action
	// Before is nil for creates.
	Before *Document
	After  Document
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Kind     Kind
	ID       string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "write blocked by rule " + v.Rule + ": " + v.Message
		}
	}
	return "write blocked by rules"
}

// RuleView provides read access to committed documents during evaluation.
type RuleView interface {
	Lookup(ctx context.Context, id string) (Document, error)
}

// Rule defines an evaluation executed before a write commits.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, change Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results. A nil
// engine evaluates nothing.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, change Change) (Result, error) {
	var combined Result
	if e == nil {
		return combined, nil
	}
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, change)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
