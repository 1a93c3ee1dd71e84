package pattern

import "testing"

func TestParseReference(t *testing.T) {
	ref, ok := parseReference("state.twr.window_1y")
	if !ok {
		t.Fatal("expected a valid reference")
	}
	if ref.ns != namespaceState {
		t.Fatalf("expected state namespace, got %v", ref.ns)
	}
	if len(ref.path) != 2 || ref.path[0] != "twr" || ref.path[1] != "window_1y" {
		t.Fatalf("unexpected path %v", ref.path)
	}
}

func TestParseReferenceRejectsNonReference(t *testing.T) {
	cases := []string{"hello world", "AAPL", "", "state.", ".state", "unknown.field"}
	for _, c := range cases {
		if _, ok := parseReference(c); ok {
			t.Fatalf("expected %q to be rejected as a reference", c)
		}
	}
}

func TestResolveNestedPath(t *testing.T) {
	state := map[string]any{
		"pricing": map[string]any{"close": 150.25},
	}
	ref, _ := parseReference("state.pricing.close")
	v, err := resolve(ref, state, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 150.25 {
		t.Fatalf("unexpected value %v", v)
	}
}

func TestResolveMissingKey(t *testing.T) {
	ref, _ := parseReference("ctx.missing")
	if _, err := resolve(ref, nil, map[string]any{}, nil); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestSubstituteArgsMixed(t *testing.T) {
	state := map[string]any{"security_id": "AAPL"}
	inputs := map[string]any{"threshold": 0.05}

	args := map[string]any{
		"sec":   "state.security_id",
		"limit": "inputs.threshold",
		"label": "a literal string",
		"count": 3,
	}

	out, err := SubstituteArgs(args, state, nil, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["sec"] != "AAPL" {
		t.Fatalf("expected sec to resolve to AAPL, got %v", out["sec"])
	}
	if out["limit"] != 0.05 {
		t.Fatalf("expected limit to resolve to 0.05, got %v", out["limit"])
	}
	if out["label"] != "a literal string" {
		t.Fatalf("expected literal string to pass through unchanged, got %v", out["label"])
	}
	if out["count"] != 3 {
		t.Fatalf("expected literal number to pass through unchanged, got %v", out["count"])
	}
}
