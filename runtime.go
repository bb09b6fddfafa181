package weft

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/graph"
)

// Runtime scopes one schema graph to one provider and one generation
// collaborator. All engine APIs hang off it; there is no ambient global
// state beyond the capability cache, which Close releases.
type Runtime struct {
	graph     *graph.Graph
	provider  Provider
	generator Generator
	caps      Capabilities
	logger    *slog.Logger
}

// An Option configures a Runtime.
type Option func(*Runtime)

// WithGenerator sets the generation collaborator used for scalar synthesis
// and fuzzy-relation fallback.
func WithGenerator(g Generator) Option {
	return func(rt *Runtime) { rt.generator = g }
}

// WithLogger sets the runtime logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.logger = l }
}

// New creates a Runtime over a built graph and a provider, detecting the
// provider's capabilities once up front.
func New(g *graph.Graph, p Provider, opts ...Option) *Runtime {
	rt := &Runtime{
		graph:    g,
		provider: p,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.caps = Detect(p)
	return rt
}

// Close releases the runtime's cached provider state. The provider itself is
// owned by the caller and is not closed.
func (rt *Runtime) Close() error {
	ClearCapabilityCache(rt.provider)
	return nil
}

// Graph returns the runtime's entity graph.
func (rt *Runtime) Graph() *graph.Graph { return rt.graph }

// Provider returns the runtime's storage backend.
func (rt *Runtime) Provider() Provider { return rt.provider }

// Capabilities returns the detected provider capabilities.
func (rt *Runtime) Capabilities() Capabilities { return rt.caps }

// RefreshCapabilities re-probes the provider after its method surface
// changed (e.g. it was re-wrapped).
func (rt *Runtime) RefreshCapabilities() Capabilities {
	ClearCapabilityCache(rt.provider)
	rt.caps = Detect(rt.provider)
	return rt.caps
}

// Get fetches a record and wraps it as an Entity.
func (rt *Runtime) Get(ctx context.Context, typ, id string) (*Entity, error) {
	rec, err := rt.store(nil).Get(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	return rt.newEntity(typ, rec), nil
}

// Create persists a single entity without cascading. Missing "$id" is
// filled with a generated UUID; "$type" with the entity's type URI.
func (rt *Runtime) Create(ctx context.Context, typ string, data Record) (*Entity, error) {
	ent, ok := rt.graph.Entity(typ)
	if !ok {
		return nil, NewNotFoundError(typ, "")
	}
	rec := make(Record, len(data)+2)
	for k, v := range data {
		rec[k] = v
	}
	if rec.ID() == "" {
		rec["$id"] = uuid.NewString()
	}
	if rec.TypeURI() == "" {
		rec["$type"] = ent.TypeURI
	}
	stored, err := rt.provider.Create(ctx, typ, rec.ID(), rec)
	if err != nil {
		return nil, err
	}
	return rt.newEntity(typ, stored), nil
}

// store returns the write target for an operation: the given transaction
// when one is open, the bare provider otherwise.
func (rt *Runtime) store(tx Tx) Provider {
	if tx != nil {
		return tx
	}
	return rt.provider
}

// SemanticSearch calls the provider's semantic search, gated by capability
// detection. Unlike fuzzy relation resolution, this direct call surfaces a
// *CapabilityError when the provider lacks vector search.
func (rt *Runtime) SemanticSearch(ctx context.Context, typ, query string, opts SemanticOptions) ([]ScoredRecord, error) {
	if err := rt.caps.Require(CapSemanticSearch, ""); err != nil {
		return nil, err
	}
	return rt.provider.(SemanticSearcher).SemanticSearch(ctx, typ, query, opts)
}
