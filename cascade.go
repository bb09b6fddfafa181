package weft

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/weftlabs/weft/graph"
	"github.com/weftlabs/weft/schema/field"
)

// Phase of a cascade invocation.
type Phase string

// Cascade phases, in lifecycle order.
const (
	PhasePlanning   Phase = "planning"
	PhaseGenerating Phase = "generating"
	PhaseCreated    Phase = "created"
	PhaseComplete   Phase = "complete"
)

// Progress is one cascade progress event. TotalEntitiesCreated is
// monotonically non-decreasing across the whole cascade.
type Progress struct {
	Phase                Phase
	Depth                int
	CurrentType          string
	TotalEntitiesCreated int
}

// BranchContext identifies the cascade branch an error belongs to.
type BranchContext struct {
	Type       string // type being created in the branch
	Field      string // relation field that spawned the branch
	Depth      int
	ParentType string
	ParentID   string
}

// CascadeOptions controls CreateWithCascade.
type CascadeOptions struct {
	// Cascade enables recursive creation across forward relations.
	Cascade bool
	// MaxDepth bounds the recursion; entities are never created at a
	// depth greater than MaxDepth.
	MaxDepth int
	// Concurrency bounds sibling-branch fan-out. Defaults to 4.
	Concurrency int
	// OnProgress, when set, fires before each entity is generated, after
	// it is persisted, and once more when the cascade finishes.
	OnProgress func(Progress)
	// OnError, when set, receives per-branch failures. A failed branch
	// never aborts its siblings or already-committed ancestors.
	OnError func(error, BranchContext)
}

func (o CascadeOptions) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return 4
}

// cascadeRun is the per-invocation state: one counter, one progress mutex,
// one optional transaction shared by every branch.
type cascadeRun struct {
	rt      *Runtime
	opts    CascadeOptions
	tx      Tx
	created atomic.Int64
	mu      sync.Mutex // serializes OnProgress/OnError callbacks
}

// CreateWithCascade creates the root entity and, depth-bounded, its forward
// relations. Backward relations are pure queries and never cascade, which
// keeps the recursion bounded even when backrefs make the graph cyclic.
//
// When the provider supports transactions the whole cascade is buffered and
// committed at the end; a root-entity failure rolls it back. Branch failures
// are reported through OnError and do not fail the cascade.
func (rt *Runtime) CreateWithCascade(ctx context.Context, typ string, data Record, opts CascadeOptions) (*Entity, error) {
	run := &cascadeRun{rt: rt, opts: opts}
	if txb, ok := rt.provider.(TxBeginner); ok {
		tx, err := txb.BeginTx(ctx)
		if err != nil {
			return nil, err
		}
		run.tx = tx
	}

	run.progress(PhasePlanning, 0, typ)
	root, err := run.createOne(ctx, typ, data, 0, nil)
	if err != nil {
		if run.tx != nil {
			if rbErr := run.tx.Rollback(); rbErr != nil {
				rt.logger.Warn("cascade rollback failed", "type", typ, "error", rbErr)
			}
		}
		return nil, err
	}
	if run.tx != nil {
		if err := run.tx.Commit(ctx); err != nil {
			return nil, err
		}
	}
	run.progress(PhaseComplete, 0, typ)
	return root, nil
}

func (run *cascadeRun) createOne(ctx context.Context, typ string, data Record, depth int, ancestors []Record) (*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rt := run.rt
	ent, ok := rt.graph.Entity(typ)
	if !ok {
		return nil, NewNotFoundError(typ, "")
	}
	store := rt.store(run.tx)

	run.progress(PhaseGenerating, depth, typ)

	rec := make(Record, len(data)+2)
	for k, v := range data {
		rec[k] = v
	}
	if err := run.generateScalars(ctx, ent, rec, ancestors); err != nil {
		return nil, err
	}
	if rec.ID() == "" {
		rec["$id"] = uuid.NewString()
	}
	if rec.TypeURI() == "" {
		rec["$type"] = ent.TypeURI
	}
	// Nested partials for relation branches are consumed below, not stored.
	branchSeeds := make(map[string]any)
	for _, f := range ent.RelationFields() {
		if seed, ok := rec[f.Name]; ok && !isLinkValue(seed) {
			branchSeeds[f.Name] = seed
			delete(rec, f.Name)
		}
	}

	stored, err := store.Create(ctx, typ, rec.ID(), rec)
	if err != nil {
		return nil, err
	}
	run.recordCreated(depth, typ)

	e := rt.newEntity(typ, stored)
	run.cascadeRelations(ctx, e, ent, branchSeeds, depth, append(ancestors, cloneRecord(stored)))
	return e, nil
}

// cascadeRelations walks the entity's forward relation fields. Sibling
// branches run concurrently under a bounded group; a branch failure is
// reported and swallowed so the others proceed.
func (run *cascadeRun) cascadeRelations(ctx context.Context, e *Entity, ent *graph.Entity, seeds map[string]any, depth int, ancestors []Record) {
	rt := run.rt
	eg := new(errgroup.Group)
	eg.SetLimit(run.opts.concurrency())

	var linkMu sync.Mutex
	links := make(Record)

	for _, f := range ent.RelationFields() {
		if f.Direction() != field.Forward {
			continue
		}
		bc := BranchContext{
			Type:       f.RelatedType,
			Field:      f.Name,
			Depth:      depth + 1,
			ParentType: e.Type(),
			ParentID:   e.ID(),
		}

		// Fuzzy relations materialize through the resolver, which may
		// reuse an existing record or generate a new one.
		if f.MatchMode() == field.Fuzzy {
			f := f
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					run.reportError(err, bc)
					return nil
				}
				// An explicit hint on the record outranks the
				// interpolated field prompt.
				hint, _ := e.Field(f.Name + "Hint").(string)
				if hint == "" {
					hint = interpolate(f.Prompt, ancestors)
				}
				if _, err := rt.resolveRelation(ctx, run.tx, e, f, ResolveOptions{Hint: hint, AllowGenerate: true}); err != nil {
					run.reportError(err, bc)
				}
				return nil
			})
			continue
		}

		// Exact forward relations cascade-create their targets.
		if !run.opts.Cascade || depth >= run.opts.MaxDepth {
			continue
		}
		if _, ok := rt.graph.Entity(f.RelatedType); !ok {
			continue
		}
		for _, seed := range branchSeedList(f, seeds[f.Name]) {
			f, seed := f, seed
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					run.reportError(err, bc)
					return nil
				}
				child, err := run.createOne(ctx, f.RelatedType, seed, depth+1, ancestors)
				if err != nil {
					run.reportError(err, bc)
					return nil
				}
				store := rt.store(run.tx)
				if err := store.Relate(ctx, e.Type(), e.ID(), f.Name, f.RelatedType, child.ID()); err != nil {
					run.reportError(err, bc)
					return nil
				}
				linkMu.Lock()
				if f.IsArray {
					ids, _ := links[f.Name].([]string)
					links[f.Name] = append(ids, child.ID())
				} else {
					links[f.Name] = child.ID()
				}
				linkMu.Unlock()
				return nil
			})
		}
	}
	_ = eg.Wait()

	if len(links) > 0 {
		store := rt.store(run.tx)
		if _, err := store.Update(ctx, e.Type(), e.ID(), links); err != nil {
			run.reportError(err, BranchContext{Type: e.Type(), Depth: depth, ParentID: e.ID()})
			return
		}
		for k, v := range links {
			e.setField(k, v)
		}
	}
}

// branchSeedList turns an optional nested partial into the per-branch seed
// data: a list of maps spawns one branch each, a single map one branch, and
// absence a single empty branch.
func branchSeedList(f *field.Field, seed any) []Record {
	switch s := seed.(type) {
	case []any:
		out := make([]Record, 0, len(s))
		for _, item := range s {
			if m, ok := item.(map[string]any); ok {
				out = append(out, Record(m))
			}
		}
		if len(out) > 0 {
			return out
		}
	case []map[string]any:
		out := make([]Record, 0, len(s))
		for _, m := range s {
			out = append(out, Record(m))
		}
		if len(out) > 0 {
			return out
		}
	case map[string]any:
		return []Record{Record(s)}
	case Record:
		return []Record{s}
	}
	return []Record{{}}
}

// isLinkValue reports whether a relation field's datum is already a link
// (id or id list) rather than a nested partial to cascade from.
func isLinkValue(v any) bool {
	switch s := v.(type) {
	case string:
		return true
	case []string:
		return true
	case []any:
		for _, item := range s {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

func (run *cascadeRun) generateScalars(ctx context.Context, ent *graph.Entity, rec Record, ancestors []Record) error {
	rt := run.rt
	if rt.generator == nil {
		return nil
	}
	missing := make(map[string]string)
	for _, name := range ent.FieldOrder {
		f := ent.Fields[name]
		if f.IsRelation() {
			continue
		}
		if _, ok := rec[name]; ok {
			continue
		}
		missing[name] = interpolate(f.Prompt, ancestors)
	}
	if len(missing) == 0 {
		return nil
	}
	promptCtx := make(map[string]any)
	if n := len(ancestors); n > 0 {
		promptCtx = ancestors[n-1]
	}
	instructions, _ := ent.Directives["$instructions"].(string)
	vals, err := rt.generator.Generate(ctx, GenerateRequest{
		EntityType: ent.Name,
		TypeURI:    ent.TypeURI,
		Directives: ent.Directives,
		Prompt:     interpolate(instructions, ancestors),
		Fields:     missing,
		Context:    promptCtx,
	})
	if err != nil {
		return NewGenerationError(ent.Name, err)
	}
	for k, v := range vals {
		if _, ok := rec[k]; !ok {
			rec[k] = v
		}
	}
	return nil
}

// recordCreated bumps the counter and emits the created event under one
// lock, so concurrent branches never observe equal totals.
func (run *cascadeRun) recordCreated(depth int, typ string) {
	run.mu.Lock()
	total := run.created.Add(1)
	if run.opts.OnProgress != nil {
		run.opts.OnProgress(Progress{
			Phase:                PhaseCreated,
			Depth:                depth,
			CurrentType:          typ,
			TotalEntitiesCreated: int(total),
		})
	}
	run.mu.Unlock()
}

func (run *cascadeRun) progress(phase Phase, depth int, typ string) {
	if run.opts.OnProgress == nil {
		return
	}
	p := Progress{
		Phase:                phase,
		Depth:                depth,
		CurrentType:          typ,
		TotalEntitiesCreated: int(run.created.Load()),
	}
	run.mu.Lock()
	run.opts.OnProgress(p)
	run.mu.Unlock()
}

func (run *cascadeRun) reportError(err error, bc BranchContext) {
	run.rt.logger.Warn("cascade branch failed",
		"type", bc.Type, "field", bc.Field, "depth", bc.Depth, "error", err)
	if run.opts.OnError == nil {
		return
	}
	run.mu.Lock()
	run.opts.OnError(err, bc)
	run.mu.Unlock()
}

var parentRef = regexp.MustCompile(`\{parent\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate replaces {parent.field} references with the nearest ancestor
// value that defines the field.
func interpolate(s string, ancestors []Record) string {
	if s == "" || len(ancestors) == 0 || !parentRef.MatchString(s) {
		return s
	}
	return parentRef.ReplaceAllStringFunc(s, func(m string) string {
		name := parentRef.FindStringSubmatch(m)[1]
		for i := len(ancestors) - 1; i >= 0; i-- {
			if v, ok := ancestors[i][name]; ok {
				return fmt.Sprint(v)
			}
		}
		return m
	})
}
