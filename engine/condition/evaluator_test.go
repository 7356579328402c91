package condition

import "testing"

func scopeWith(variables map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"input":     map[string]interface{}{"count": 3},
		"variables": variables,
		"nodes":     map[string]interface{}{},
		"trigger":   map[string]interface{}{},
	}
}

func TestEvaluateOutputComparison(t *testing.T) {
	e := NewEvaluator()
	output := map[string]interface{}{"status": 200}

	got, err := e.Evaluate("output.status == 200", output, scopeWith(nil))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("expected true")
	}
}

func TestEvaluateScopeRoots(t *testing.T) {
	e := NewEvaluator()
	vars := map[string]interface{}{"approved": true}

	got, err := e.Evaluate("variables.approved && input.count > 2", nil, scopeWith(vars))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("expected true")
	}
}

func TestEvaluateNonBooleanResult(t *testing.T) {
	e := NewEvaluator()
	if _, err := e.Evaluate("input.count + 1", nil, scopeWith(nil)); err == nil {
		t.Error("expected error for non-boolean expression")
	}
}

func TestEvaluateCompileError(t *testing.T) {
	e := NewEvaluator()
	if _, err := e.Evaluate("input.count ==", nil, scopeWith(nil)); err == nil {
		t.Error("expected compile error")
	}
}

func TestEvaluateEmptyExpression(t *testing.T) {
	e := NewEvaluator()
	if _, err := e.Evaluate("", nil, scopeWith(nil)); err == nil {
		t.Error("expected error for empty expression")
	}
}

func TestEvaluateCachesPrograms(t *testing.T) {
	e := NewEvaluator()
	expr := `variables.approved == true`

	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(expr, nil, scopeWith(map[string]interface{}{"approved": true})); err != nil {
			t.Fatalf("Evaluate #%d: %v", i, err)
		}
	}
	if e.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", e.CacheSize())
	}

	e.ClearCache()
	if e.CacheSize() != 0 {
		t.Errorf("cache size after clear = %d, want 0", e.CacheSize())
	}
}
