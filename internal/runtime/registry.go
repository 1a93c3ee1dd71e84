// Package runtime is the capability runtime: it mediates every agent
// invocation the online adapter makes once the freshness gate has opened.
// An agent is a bundle of named capabilities; the runtime owns
// registration, routing, retry, request-scoped caching, and provenance
// stamping on every result.
package runtime

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Provenance names the origin of a capability result.
type Provenance string

const (
	ProvenanceReal        Provenance = "real"
	ProvenanceError       Provenance = "error"
	ProvenancePlaceholder Provenance = "placeholder" // dev-mode only
)

// Result is what every capability invocation returns: the payload plus the
// provenance metadata callers can enforce (e.g. "reject placeholders").
type Result struct {
	Value         any
	Provenance    Provenance
	Source        string // e.g. "pricing_pack:<id>"
	AsOfDate      string
	TTLHint       string
}

// RequestContext carries the pinned pricing pack and ledger commit every
// capability invocation in a request is scoped to.
type RequestContext struct {
	PricingPackID string
	LedgerCommit  string
	DevMode       bool
}

// Capability is the atomic unit of routing: a named, typed operation
// exposed by an agent.
type Capability func(ctx context.Context, rc RequestContext, state map[string]any, args map[string]any) (Result, error)

// Agent is a bundle of named capabilities.
type Agent interface {
	Name() string
	Capabilities() map[string]Capability
}

// Registry builds and owns the unique capability_name -> capability
// mapping. Registration happens once at startup; a duplicate name across
// agents is a programming error and panics immediately, never at request
// time: a misconfigured capability set is fatal at init, not something to
// recover from mid-request.
type Registry struct {
	capabilities map[string]registeredCapability
	log          zerolog.Logger
}

type registeredCapability struct {
	agentName string
	fn        Capability
}

// NewRegistry builds an empty Registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		capabilities: make(map[string]registeredCapability),
		log:          log.With().Str("component", "capability_registry").Logger(),
	}
}

// Register adds every capability of agent to the registry. Panics if any
// capability name is already registered.
func (r *Registry) Register(agent Agent) {
	for name, fn := range agent.Capabilities() {
		if existing, ok := r.capabilities[name]; ok {
			panic(fmt.Sprintf("capability runtime: duplicate capability %q registered by both %q and %q",
				name, existing.agentName, agent.Name()))
		}
		r.capabilities[name] = registeredCapability{agentName: agent.Name(), fn: fn}
		r.log.Debug().Str("capability", name).Str("agent", agent.Name()).Msg("capability registered")
	}
}

// Lookup returns the registered capability function, or false if no agent
// exposes that name.
func (r *Registry) Lookup(capabilityName string) (Capability, bool) {
	c, ok := r.capabilities[capabilityName]
	if !ok {
		return nil, false
	}
	return c.fn, true
}

// Names returns every registered capability name, for diagnostics.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		out = append(out, name)
	}
	return out
}
