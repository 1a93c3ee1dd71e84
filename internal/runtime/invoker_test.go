package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/rs/zerolog"
)

func TestInvokeCachesWithinRequest(t *testing.T) {
	calls := 0
	reg := NewRegistry(zerolog.Nop())
	reg.Register(stubAgent{name: "a", caps: map[string]Capability{
		"echo": func(ctx context.Context, rc RequestContext, state, args map[string]any) (Result, error) {
			calls++
			return Result{Value: args["x"]}, nil
		},
	}})

	inv := NewInvoker(reg, zerolog.Nop())
	cache := NewCache()
	args := map[string]any{"x": 42}

	if _, err := inv.Invoke(context.Background(), RequestContext{}, cache, "echo", nil, args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := inv.Invoke(context.Background(), RequestContext{}, cache, "echo", nil, args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single underlying call due to caching, got %d", calls)
	}
}

func TestInvokeUnknownCapability(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	inv := NewInvoker(reg, zerolog.Nop())
	_, err := inv.Invoke(context.Background(), RequestContext{}, NewCache(), "nope", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown capability")
	}
	if !apperrors.IsValidation(err) && apperrors.KindOf(err) != apperrors.KindFatal {
		t.Fatalf("expected fatal/validation kind, got %v", apperrors.KindOf(err))
	}
}

func TestInvokeNonTransientFailsFast(t *testing.T) {
	calls := 0
	reg := NewRegistry(zerolog.Nop())
	reg.Register(stubAgent{name: "a", caps: map[string]Capability{
		"bad": func(ctx context.Context, rc RequestContext, state, args map[string]any) (Result, error) {
			calls++
			return Result{}, apperrors.Validation("agent", "bad", errors.New("bad input"))
		},
	}})

	inv := NewInvoker(reg, zerolog.Nop())
	_, err := inv.Invoke(context.Background(), RequestContext{}, NewCache(), "bad", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a non-transient error, got %d", calls)
	}
}

func TestInvokeRetriesTransient(t *testing.T) {
	calls := 0
	reg := NewRegistry(zerolog.Nop())
	reg.Register(stubAgent{name: "a", caps: map[string]Capability{
		"flaky": func(ctx context.Context, rc RequestContext, state, args map[string]any) (Result, error) {
			calls++
			if calls < 2 {
				return Result{}, apperrors.Transient("agent", "flaky", errors.New("upstream timeout"))
			}
			return Result{Value: "ok"}, nil
		},
	}})

	inv := NewInvoker(reg, zerolog.Nop())
	res, err := inv.Invoke(context.Background(), RequestContext{}, NewCache(), "flaky", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if res.Value != "ok" {
		t.Fatalf("unexpected result %v", res.Value)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}
