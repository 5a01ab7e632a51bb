package internal

import (
	"io"
	"log"
	"testing"
)

func engine(t *testing.T, rules ...Rule) *RuleEngine {
	t.Helper()
	e, err := NewRuleEngine(rules, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("compile rules: %v", err)
	}
	return e
}

func TestRulesEmptyEngineAllows(t *testing.T) {
	e := engine(t)
	if !e.Allow("push", KindCommitPush, nil) {
		t.Fatalf("empty rule set must allow everything")
	}
}

func TestRulesDropByKind(t *testing.T) {
	e := engine(t, Rule{When: `kind == "issue_commented"`, Action: "drop"})
	if e.Allow("issue_comment", KindIssueCommented, nil) {
		t.Fatalf("matching drop rule must reject")
	}
	if !e.Allow("issues", KindIssueOpened, nil) {
		t.Fatalf("non-matching event must pass")
	}
}

func TestRulesFlattenedPayloadFields(t *testing.T) {
	e := engine(t, Rule{When: `[repository.name] == "noisy-repo"`, Action: "drop"})

	params := Flatten(map[string]interface{}{
		"repository": map[string]interface{}{"name": "noisy-repo"},
	})
	if e.Allow("push", KindCommitPush, params) {
		t.Fatalf("payload field match must drop")
	}

	params = Flatten(map[string]interface{}{
		"repository": map[string]interface{}{"name": "widget"},
	})
	if !e.Allow("push", KindCommitPush, params) {
		t.Fatalf("non-matching payload must pass")
	}
}

// TestRulesFirstMatchWins tests that an allow rule shadows a later drop.
func TestRulesFirstMatchWins(t *testing.T) {
	e := engine(t,
		Rule{When: `kind == "pull_request_merged"`, Action: "allow"},
		Rule{When: `event == "pull_request"`, Action: "drop"},
	)
	if !e.Allow("pull_request", KindPullRequestMerged, nil) {
		t.Fatalf("earlier allow must win")
	}
	if e.Allow("pull_request", KindPullRequestOpened, nil) {
		t.Fatalf("later drop must apply to non-allowed kinds")
	}
}

// TestRulesEvaluationErrorSkipsRule tests that referencing a missing field
// never drops the event.
func TestRulesEvaluationErrorSkipsRule(t *testing.T) {
	e := engine(t, Rule{When: `[no.such.field] == "x"`, Action: "drop"})
	if !e.Allow("push", KindCommitPush, map[string]interface{}{}) {
		t.Fatalf("unevaluable rule must be skipped, not treated as a match")
	}
}

func TestRulesBadExpression(t *testing.T) {
	_, err := NewRuleEngine([]Rule{{When: `kind ==`, Action: "drop"}}, log.New(io.Discard, "", 0))
	if err == nil {
		t.Fatalf("expected compile error for truncated expression")
	}
}
