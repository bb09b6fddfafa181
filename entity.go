package weft

import (
	"context"
	"sync"
)

// An Entity is one runtime instance of a schema type: its scalar values plus
// lazily resolved relationships. Relation fields resolve on first access and
// are cached per instance until explicitly invalidated. Entities are safe
// for concurrent use: cascade branches resolve sibling relations of one
// entity in parallel, so every data access goes through e.mu.
type Entity struct {
	rt  *Runtime
	typ string

	mu        sync.Mutex
	data      Record
	relations map[string]any // field name -> *Entity | []*Entity | nil
	resolved  map[string]bool
}

func (rt *Runtime) newEntity(typ string, rec Record) *Entity {
	return &Entity{
		rt:        rt,
		typ:       typ,
		data:      rec,
		relations: make(map[string]any),
		resolved:  make(map[string]bool),
	}
}

// ID returns the entity's "$id".
func (e *Entity) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.ID()
}

// Type returns the schema type name of the entity.
func (e *Entity) Type() string { return e.typ }

// Field returns a scalar field value.
func (e *Entity) Field(name string) any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data[name]
}

// Data returns a shallow copy of the entity's record.
func (e *Entity) Data() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(Record, len(e.data))
	for k, v := range e.data {
		out[k] = v
	}
	return out
}

// Relation resolves the named relation field, lazily on first access. The
// result is *Entity for singular relations, []*Entity for arrays and
// backward relations, or nil when nothing resolves. Subsequent calls return
// the cached result until Invalidate.
func (e *Entity) Relation(ctx context.Context, name string) (any, error) {
	ent, ok := e.rt.graph.Entity(e.typ)
	if !ok {
		return nil, NewNotFoundError(e.typ, "")
	}
	f, ok := ent.Field(name)
	if !ok || !f.IsRelation() {
		return nil, NewResolutionError(e.typ, e.ID(), name, ErrNotFound)
	}

	e.mu.Lock()
	if e.resolved[name] {
		v := e.relations[name]
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()

	v, err := e.rt.resolveRelation(ctx, nil, e, f, ResolveOptions{})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.relations[name] = v
	e.resolved[name] = true
	e.mu.Unlock()
	return v, nil
}

// One resolves a singular relation.
func (e *Entity) One(ctx context.Context, name string) (*Entity, error) {
	v, err := e.Relation(ctx, name)
	if err != nil || v == nil {
		return nil, err
	}
	if one, ok := v.(*Entity); ok {
		return one, nil
	}
	if many, ok := v.([]*Entity); ok && len(many) > 0 {
		return many[0], nil
	}
	return nil, nil
}

// Many resolves a list-valued or backward relation.
func (e *Entity) Many(ctx context.Context, name string) ([]*Entity, error) {
	v, err := e.Relation(ctx, name)
	if err != nil || v == nil {
		return nil, err
	}
	if many, ok := v.([]*Entity); ok {
		return many, nil
	}
	if one, ok := v.(*Entity); ok {
		return []*Entity{one}, nil
	}
	return nil, nil
}

// Invalidate drops the cached resolution of the named relation, forcing the
// next access to resolve again.
func (e *Entity) Invalidate(name string) {
	e.mu.Lock()
	delete(e.relations, name)
	delete(e.resolved, name)
	e.mu.Unlock()
}

// setField records a locally known value (e.g. a link id written during
// resolution) so later reads observe it without a refetch.
func (e *Entity) setField(name string, v any) {
	e.mu.Lock()
	e.data[name] = v
	e.mu.Unlock()
}
