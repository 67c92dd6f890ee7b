package steward

import "testing"

func TestEvaluate_ComparisonsAndMemberAccess(t *testing.T) {
	env := map[string]interface{}{
		"task": map[string]interface{}{
			"status":   "open",
			"priority": float64(2),
		},
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`task.status == "open"`, true},
		{`task.status == "closed"`, false},
		{`task.priority < 3`, true},
		{`task.priority <= 2 && task.status == "open"`, true},
		{`task.priority > 5 || task.status == "open"`, true},
		{`!(task.status == "open")`, false},
		{`task.missing == null`, true},
		{`task?.status == "open"`, true},
		{`task["status"] == "open"`, true},
		{`task.status === "open"`, true},
		{`task.status === "closed"`, false},
		{`task.status !== "closed"`, true},
		{`task.status !== "open"`, false},
	}

	for _, tc := range cases {
		if got := Evaluate(tc.expr, env); got != tc.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluate_MalformedExpressionIsFalse(t *testing.T) {
	cases := []string{
		`task.status =`,
		`task.status == `,
		`(task.status == "open"`,
		`someFunc()`,
		`task.status == "open"; task.priority == 1`,
	}
	for _, expr := range cases {
		if got := Evaluate(expr, nil); got != false {
			t.Errorf("Evaluate(%q) = %v, want false", expr, got)
		}
	}
}

func TestValidateCondition_RejectsCallExpressions(t *testing.T) {
	if err := ValidateCondition(`eval("1")`); err == nil {
		t.Error("expected parse error for call expression, got nil")
	}
}
