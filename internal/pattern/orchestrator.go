package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/truthspine/internal/apperrors"
	"github.com/aristath/truthspine/internal/runtime"
	"github.com/rs/zerolog"
)

// Step is one node of a declarative pattern: a capability invocation with
// named outputs and templated arguments.
type Step struct {
	Name       string         `json:"name"`
	Capability string         `json:"capability"`
	Args       map[string]any `json:"args"`
	DependsOn  []string       `json:"depends_on"`
	// Condition, if set, is a "state.X"/"ctx.Y"/"inputs.Z" reference that
	// must resolve truthy for the step to run; a falsy/missing reference
	// skips the step without failing the pattern.
	Condition string `json:"condition,omitempty"`
	Output    string `json:"output"`
}

// Pattern is a named DAG of steps.
type Pattern struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// TraceEntry records one executed (or skipped) step for the orchestrator's
// trace output.
type TraceEntry struct {
	Step       string
	Capability string
	Skipped    bool
	Source     string
	Duration   time.Duration
	Err        string
}

// ExecutionResult is the outcome of running a pattern: the final
// execution-state mapping plus the trace.
type ExecutionResult struct {
	State map[string]any
	Trace []TraceEntry
}

// Orchestrator executes patterns against a capability runtime.
type Orchestrator struct {
	invoker *runtime.Invoker
	log     zerolog.Logger
}

// NewOrchestrator builds an Orchestrator bound to a capability Invoker.
func NewOrchestrator(invoker *runtime.Invoker, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{invoker: invoker, log: log.With().Str("component", "pattern_orchestrator").Logger()}
}

// Execute runs p's steps in topological dependency order within a single
// request-scoped cache, substituting state/ctx/inputs references into each
// step's arguments before dispatch. The current contract is serial
// execution within a pattern even when steps are independent branches.
func (o *Orchestrator) Execute(ctx context.Context, rc runtime.RequestContext, p Pattern, inputs map[string]any) (*ExecutionResult, error) {
	order, err := topologicalOrder(p.Steps)
	if err != nil {
		return nil, apperrors.Validation("pattern", "execute", err)
	}

	ctxMap := map[string]any{
		"pricing_pack_id": rc.PricingPackID,
		"ledger_commit":   rc.LedgerCommit,
	}

	state := make(map[string]any)
	cache := runtime.NewCache()
	var trace []TraceEntry

	byName := make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		byName[s.Name] = s
	}

	for _, name := range order {
		step := byName[name]

		if step.Condition != "" {
			truthy, err := conditionHolds(step.Condition, state, ctxMap, inputs)
			if err != nil {
				return nil, apperrors.Validation("pattern", "condition", err)
			}
			if !truthy {
				trace = append(trace, TraceEntry{Step: step.Name, Capability: step.Capability, Skipped: true})
				continue
			}
		}

		args, err := SubstituteArgs(step.Args, state, ctxMap, inputs)
		if err != nil {
			return nil, apperrors.Validation("pattern", "substitute", fmt.Errorf("step %q: %w", step.Name, err))
		}

		start := time.Now()
		result, err := o.invoker.Invoke(ctx, rc, cache, step.Capability, state, args)
		entry := TraceEntry{Step: step.Name, Capability: step.Capability, Source: result.Source, Duration: time.Since(start)}
		if err != nil {
			entry.Err = err.Error()
			trace = append(trace, entry)
			return &ExecutionResult{State: state, Trace: trace}, apperrors.Fatal("pattern", "invoke", fmt.Errorf("step %q: %w", step.Name, err))
		}
		trace = append(trace, entry)

		outputName := step.Output
		if outputName == "" {
			outputName = step.Name
		}
		state[outputName] = result.Value
	}

	return &ExecutionResult{State: state, Trace: trace}, nil
}

// conditionHolds resolves cond and reports whether it is truthy: present,
// non-nil, not false, and not an empty/zero value.
func conditionHolds(cond string, state, ctx, inputs map[string]any) (bool, error) {
	ref, ok := parseReference(cond)
	if !ok {
		return false, fmt.Errorf("condition %q is not a valid state./ctx./inputs. reference", cond)
	}
	v, err := resolve(ref, state, ctx, inputs)
	if err != nil {
		return false, nil // missing reference = condition not satisfied, not an error
	}
	return isTruthy(v), nil
}

func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

// topologicalOrder runs Kahn's algorithm over the step dependency graph,
// returning an error if a cycle is present or a dependency names an
// unknown step.
func topologicalOrder(steps []Step) ([]string, error) {
	indegree := make(map[string]int, len(steps))
	adj := make(map[string][]string, len(steps))
	known := make(map[string]bool, len(steps))

	for _, s := range steps {
		known[s.Name] = true
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if !known[dep] {
				return nil, fmt.Errorf("step %q depends on unknown step %q", s.Name, dep)
			}
			adj[dep] = append(adj[dep], s.Name)
			indegree[s.Name]++
		}
	}

	var queue []string
	for _, s := range steps {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range adj[n] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, fmt.Errorf("pattern contains a dependency cycle")
	}
	return order, nil
}
