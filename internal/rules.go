package internal

import (
	"log"

	"github.com/Knetic/govaluate"
)

// Rule decides whether a matching event is relayed. The expression is
// evaluated against the flattened raw payload plus "event" and "kind"
// parameters; the first matching rule wins.
type Rule struct {
	When   string `yaml:"when"`
	Action string `yaml:"action"`
}

type compiledRule struct {
	action string
	expr   *govaluate.EvaluableExpression
}

// RuleEngine evaluates filter rules against incoming events.
type RuleEngine struct {
	rules  []compiledRule
	logger *log.Logger
}

// NewRuleEngine compiles the configured rules. An engine with no rules
// allows everything.
func NewRuleEngine(rules []Rule, logger *log.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = log.Default()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{action: rule.Action, expr: expr})
	}
	return &RuleEngine{rules: compiled, logger: logger}, nil
}

// Allow reports whether a notification derived from the given event should
// be relayed. Parameters that fail to evaluate (e.g. referencing a missing
// field) skip the rule rather than dropping the event.
func (r *RuleEngine) Allow(event string, kind Kind, params map[string]interface{}) bool {
	if len(r.rules) == 0 {
		return true
	}

	merged := make(map[string]interface{}, len(params)+2)
	for key, value := range params {
		merged[key] = value
	}
	merged["event"] = event
	merged["kind"] = string(kind)

	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(merged)
		if err != nil {
			continue
		}
		matched, _ := result.(bool)
		if matched {
			if rule.action == "drop" {
				r.logger.Printf("rule dropped event=%s kind=%s", event, kind)
				return false
			}
			return true
		}
	}
	return true
}
