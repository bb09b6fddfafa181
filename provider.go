package weft

import (
	"context"
	"time"
)

// A Record is one stored document: scalar field values plus the reserved
// "$id" and "$type" keys.
type Record map[string]any

// ID returns the record's "$id" value.
func (r Record) ID() string {
	id, _ := r["$id"].(string)
	return id
}

// TypeURI returns the record's "$type" value.
func (r Record) TypeURI() string {
	t, _ := r["$type"].(string)
	return t
}

// ListOptions controls List pagination.
type ListOptions struct {
	Limit  int // 0 means no limit
	Offset int
}

// SearchOptions controls plain text search.
type SearchOptions struct {
	Limit int
	// Fields restricts matching to the named fields; empty means all
	// string-valued fields.
	Fields []string
}

// Provider is the storage backend consumed by the engine. Implementations
// live behind this interface; the engine never depends on a concrete store.
//
// Get returns a NotFoundError for a missing record. Create and Update return
// the stored record. Relate and Unrelate maintain relation tuples keyed by
// the forward relation name; Related answers from either side of a tuple, so
// backward resolution needs no inverse bookkeeping in the store.
type Provider interface {
	Get(ctx context.Context, typ, id string) (Record, error)
	List(ctx context.Context, typ string, opts ListOptions) ([]Record, error)
	Search(ctx context.Context, typ, query string, opts SearchOptions) ([]Record, error)
	Create(ctx context.Context, typ, id string, data Record) (Record, error)
	Update(ctx context.Context, typ, id string, data Record) (Record, error)
	Delete(ctx context.Context, typ, id string) error
	Related(ctx context.Context, typ, id, relation string) ([]Record, error)
	Relate(ctx context.Context, typ, id, relation, targetType, targetID string) error
	Unrelate(ctx context.Context, typ, id, relation, targetType, targetID string) error
}

// A ScoredRecord is a search hit with its similarity score in [0,1].
type ScoredRecord struct {
	Record Record
	Score  float64
}

// SemanticOptions controls semantic and hybrid search.
type SemanticOptions struct {
	Limit     int
	Threshold float64 // drop hits below this score; 0 keeps everything
}

// EmbeddingsConfig configures the embedding model of a semantic-capable
// provider.
type EmbeddingsConfig struct {
	Model      string
	Dimensions int
}

// SemanticSearcher is the optional vector-search surface of a provider.
type SemanticSearcher interface {
	SemanticSearch(ctx context.Context, typ, query string, opts SemanticOptions) ([]ScoredRecord, error)
	HybridSearch(ctx context.Context, typ, query string, opts SemanticOptions) ([]ScoredRecord, error)
	SetEmbeddingsConfig(cfg EmbeddingsConfig) error
}

// An Event is one entry of a provider's change feed.
type Event struct {
	Name    string
	Type    string
	ID      string
	Payload Record
	At      time.Time
}

// EventProvider is the optional event surface of a provider.
type EventProvider interface {
	// On registers a handler for the named event and returns a cancel
	// function that unregisters it.
	On(event string, handler func(Event)) (cancel func())
	Emit(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, opts ListOptions) ([]Event, error)
	ReplayEvents(ctx context.Context, since time.Time, handler func(Event)) error
}

// An Action is a deferred provider-side operation with retry bookkeeping.
type Action struct {
	ID       string
	Kind     string
	Status   string
	Payload  Record
	Attempts int
	At       time.Time
}

// Action statuses.
const (
	ActionPending   = "pending"
	ActionCompleted = "completed"
	ActionFailed    = "failed"
	ActionCancelled = "cancelled"
)

// ActionProvider is the optional deferred-action surface of a provider.
type ActionProvider interface {
	CreateAction(ctx context.Context, a Action) (Action, error)
	GetAction(ctx context.Context, id string) (Action, error)
	UpdateAction(ctx context.Context, a Action) (Action, error)
	ListActions(ctx context.Context, opts ListOptions) ([]Action, error)
	RetryAction(ctx context.Context, id string) error
	CancelAction(ctx context.Context, id string) error
}

// ArtifactProvider is the optional binary-blob surface of a provider.
type ArtifactProvider interface {
	GetArtifact(ctx context.Context, key string) ([]byte, error)
	SetArtifact(ctx context.Context, key string, data []byte) error
	DeleteArtifact(ctx context.Context, key string) error
	ListArtifacts(ctx context.Context, prefix string) ([]string, error)
}

// BatchProvider is the optional bulk-write surface of a provider.
type BatchProvider interface {
	CreateMany(ctx context.Context, typ string, records []Record) error
	DeleteMany(ctx context.Context, typ string, ids []string) error
}

// TxBeginner is implemented by providers that support buffered transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a write-buffering transaction over a provider. Reads observe
// buffered writes; nothing reaches the provider until Commit.
type Tx interface {
	Provider
	Commit(ctx context.Context) error
	Rollback() error
}

// Generator is the external collaborator that turns a generation request
// into field values. Any failure propagates as a GenerationError.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Record, error)
}

// GenerateRequest carries everything the collaborator needs to synthesize
// one entity's field values.
type GenerateRequest struct {
	// EntityType and TypeURI identify the entity being generated.
	EntityType string
	TypeURI    string
	// Directives is the entity's $-directive bag ($instructions, $seed, ...).
	Directives map[string]any
	// Prompt is the assembled guidance: field prompts with {parent.field}
	// references already interpolated, or the fuzzy-match hint when
	// generating a relation target.
	Prompt string
	// Fields names the scalar fields a value is wanted for, mapped to the
	// raw prompt of each (empty when the field declares none).
	Fields map[string]string
	// Context carries already-resolved ancestor values during a cascade.
	Context map[string]any
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (Record, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (Record, error) {
	return f(ctx, req)
}
