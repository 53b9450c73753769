package guard

import (
	"errors"
	"testing"
)

func testCtx() Context {
	return Context{
		Branch:      "main",
		BuildNumber: "42",
		Vars: map[string]string{
			"DEPLOY_ENV": "staging",
			"REGISTRY":   "registry.example.com",
			"EMPTY":      "",
		},
	}
}

func TestEval_Comparisons(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{`branch == "main"`, true},
		{`branch == "develop"`, false},
		{`branch != "develop"`, true},
		{`build_number == "42"`, true},
		{`env.DEPLOY_ENV == "staging"`, true},
		{`env.DEPLOY_ENV != "prod"`, true},
		{`env.DEPLOY_ENV == 'staging'`, true},
		{`"main" == branch`, true},
		{`env.EMPTY == ""`, true},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, testCtx())
		if err != nil {
			t.Errorf("Eval(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_LogicAndPrecedence(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{`branch == "main" && env.DEPLOY_ENV == "staging"`, true},
		{`branch == "main" && env.DEPLOY_ENV == "prod"`, false},
		{`branch == "dev" || env.DEPLOY_ENV == "staging"`, true},
		{`!(branch == "main")`, false},
		{`!false`, true},
		// && binds tighter than ||
		{`branch == "dev" || branch == "main" && build_number == "42"`, true},
		{`(branch == "dev" || branch == "main") && build_number == "7"`, false},
		{`true && true && false`, false},
		{`false || false || true`, true},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, testCtx())
		if err != nil {
			t.Errorf("Eval(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_Truthiness(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{`branch`, true},
		{`env.EMPTY`, false},
		{`env.REGISTRY`, true},
		{`"literal"`, true},
		{`""`, false},
		{`true`, true},
		{`false`, false},
		{`!env.EMPTY`, true},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, testCtx())
		if err != nil {
			t.Errorf("Eval(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_UndefinedVariable(t *testing.T) {
	for _, expr := range []string{
		`env.MISSING == "x"`,
		`unknown_name`,
		`branch == "main" && env.MISSING`,
	} {
		_, err := Eval(expr, testCtx())
		var undef UndefinedVarError
		if !errors.As(err, &undef) {
			t.Errorf("Eval(%q) error = %v, want UndefinedVarError", expr, err)
		}
	}

	_, err := Eval(`env.MISSING`, testCtx())
	var undef UndefinedVarError
	if !errors.As(err, &undef) {
		t.Fatalf("expected UndefinedVarError, got %v", err)
	}
	if undef.Name != "env.MISSING" {
		t.Errorf("UndefinedVarError.Name = %q, want env.MISSING", undef.Name)
	}
}

func TestEval_ShortCircuitSkipsUndefined(t *testing.T) {
	// The right side never evaluates when the left side decides the result.
	got, err := Eval(`branch == "main" || env.MISSING == "x"`, testCtx())
	if err != nil {
		t.Fatalf("expected short-circuit, got error: %v", err)
	}
	if !got {
		t.Error("expected true")
	}

	got, err = Eval(`branch == "other" && env.MISSING == "x"`, testCtx())
	if err != nil {
		t.Fatalf("expected short-circuit, got error: %v", err)
	}
	if got {
		t.Error("expected false")
	}

	// Reversed order must surface the error.
	if _, err := Eval(`env.MISSING == "x" || branch == "main"`, testCtx()); err == nil {
		t.Error("expected UndefinedVarError when the undefined reference evaluates first")
	}
}

func TestEval_Deterministic(t *testing.T) {
	expr, err := Parse(`branch == "main" && env.DEPLOY_ENV != "prod"`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ctx := testCtx()
	first, err := expr.Eval(ctx)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := expr.Eval(ctx)
		if err != nil {
			t.Fatalf("Eval #%d: %v", i, err)
		}
		if got != first {
			t.Fatalf("Eval #%d = %v, want stable %v", i, got, first)
		}
	}
}

func TestParse_SyntaxErrors(t *testing.T) {
	for _, expr := range []string{
		`branch ==`,
		`== "main"`,
		`branch = "main"`,
		`(branch == "main"`,
		`branch == "main" &&`,
		`"unterminated`,
		`branch && || env.X`,
		`branch == "main" extra`,
		`&`,
	} {
		_, err := Parse(expr)
		var syn SyntaxError
		if !errors.As(err, &syn) {
			t.Errorf("Parse(%q) error = %v, want SyntaxError", expr, err)
		}
	}
}

func TestStatic(t *testing.T) {
	cases := []struct {
		expr   string
		want   bool
		wantOK bool
	}{
		{`false`, false, true},
		{`true`, true, true},
		{`"x" == "y"`, false, true},
		{`"x" != "y"`, true, true},
		{`!true`, false, true},
		{`false && env.ANYTHING`, false, true},
		{`true || env.ANYTHING`, true, true},
		{`branch == "main"`, false, false},
		// A non-static left side may fail at runtime, so the whole
		// expression is non-static even with a constant right side.
		{`env.X || true`, false, false},
	}
	for _, tc := range cases {
		expr, err := Parse(tc.expr)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.expr, err)
		}
		got, ok := expr.Static()
		if ok != tc.wantOK {
			t.Errorf("Static(%q) ok = %v, want %v", tc.expr, ok, tc.wantOK)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("Static(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_StringEscapes(t *testing.T) {
	got, err := Eval(`env.REGISTRY == "registry.example.com"`, testCtx())
	if err != nil || !got {
		t.Fatalf("got (%v, %v), want (true, nil)", got, err)
	}
	got, err = Eval(`"a\"b" == "a\"b"`, Context{})
	if err != nil || !got {
		t.Fatalf("escaped quote compare: got (%v, %v), want (true, nil)", got, err)
	}
}
