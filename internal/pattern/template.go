package pattern

import (
	"fmt"
	"strings"
)

// namespace is one of the three roots a template reference may resolve
// against.
type namespace string

const (
	namespaceState  namespace = "state"
	namespaceCtx    namespace = "ctx"
	namespaceInputs namespace = "inputs"
)

// reference is a parsed "state.X" / "ctx.Y" / "inputs.Z" template token: a
// namespace plus a dotted path of field/key accessors.
type reference struct {
	ns   namespace
	path []string
}

// parseReference scans a template string by hand (no regex-as-parser,
// explicit validation over pattern matching) into a namespace and a
// dotted path. Returns ok=false if raw is not a reference at all -
// callers treat such values as string literals.
func parseReference(raw string) (reference, bool) {
	tokens, ok := tokenizeDottedPath(raw)
	if !ok || len(tokens) < 2 {
		return reference{}, false
	}

	switch namespace(tokens[0]) {
	case namespaceState, namespaceCtx, namespaceInputs:
		return reference{ns: namespace(tokens[0]), path: tokens[1:]}, true
	default:
		return reference{}, false
	}
}

// tokenizeDottedPath hand-scans "a.b.c" into ["a","b","c"], requiring every
// segment to be a non-empty run of identifier characters (letters, digits,
// underscore). Any other character (spaces, quotes, braces) disqualifies
// the whole string as a reference.
func tokenizeDottedPath(raw string) ([]string, bool) {
	if raw == "" {
		return nil, false
	}
	var tokens []string
	var current strings.Builder
	for _, r := range raw {
		switch {
		case r == '.':
			if current.Len() == 0 {
				return nil, false
			}
			tokens = append(tokens, current.String())
			current.Reset()
		case isIdentChar(r):
			current.WriteRune(r)
		default:
			return nil, false
		}
	}
	if current.Len() == 0 {
		return nil, false
	}
	tokens = append(tokens, current.String())
	return tokens, true
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

// resolve walks ref.path through the matching namespace's map, returning
// an error if any segment is missing or not traversable.
func resolve(ref reference, state, ctx, inputs map[string]any) (any, error) {
	var root map[string]any
	switch ref.ns {
	case namespaceState:
		root = state
	case namespaceCtx:
		root = ctx
	case namespaceInputs:
		root = inputs
	default:
		return nil, fmt.Errorf("unknown template namespace %q", ref.ns)
	}

	var current any = root
	for i, seg := range ref.path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse %q: %q is not a map", strings.Join(ref.path[:i+1], "."), strings.Join(ref.path[:i], "."))
		}
		v, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("template reference %s.%s: no value at %q", ref.ns, strings.Join(ref.path, "."), seg)
		}
		current = v
	}
	return current, nil
}

// SubstituteArgs resolves every "state.X" / "ctx.Y" / "inputs.Z" string
// value in args against state/ctx/inputs, leaving non-reference values
// (numbers, bools, plain strings, nested literal maps) untouched.
func SubstituteArgs(args map[string]any, state, ctx, inputs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		resolved, err := substituteValue(v, state, ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func substituteValue(v any, state, ctx, inputs map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if ref, ok := parseReference(val); ok {
			return resolve(ref, state, ctx, inputs)
		}
		return val, nil
	case map[string]any:
		nested := make(map[string]any, len(val))
		for k, nv := range val {
			r, err := substituteValue(nv, state, ctx, inputs)
			if err != nil {
				return nil, err
			}
			nested[k] = r
		}
		return nested, nil
	case []any:
		nested := make([]any, len(val))
		for i, nv := range val {
			r, err := substituteValue(nv, state, ctx, inputs)
			if err != nil {
				return nil, err
			}
			nested[i] = r
		}
		return nested, nil
	default:
		return v, nil
	}
}
