package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-openapi/inflect"

	"github.com/weftlabs/weft/schema/field"
)

// An Entity is one parsed node of the graph: its fields, its type URI and the
// pass-through bag of $-directives consumed by generation collaborators.
type Entity struct {
	// Name of the entity in the schema.
	Name string
	// TypeURI is the $type directive, or a derived default label.
	TypeURI string
	// Fields maps field name to its parsed descriptor.
	Fields map[string]*field.Field
	// FieldOrder preserves a deterministic field ordering: authored fields
	// sorted by name, synthesized fields appended in synthesis order.
	FieldOrder []string
	// Directives holds every $-prefixed schema key except $type, opaque
	// to the engine.
	Directives map[string]any
}

// Field returns the named field descriptor.
func (e *Entity) Field(name string) (*field.Field, bool) {
	f, ok := e.Fields[name]
	return f, ok
}

// RelationFields returns the entity's relationship fields in field order.
func (e *Entity) RelationFields() []*field.Field {
	var rels []*field.Field
	for _, name := range e.FieldOrder {
		if f := e.Fields[name]; f.IsRelation() {
			rels = append(rels, f)
		}
	}
	return rels
}

// A Reference identifies a relation field on some entity that points at a
// given target type.
type Reference struct {
	Entity *Entity
	Field  *field.Field
}

// Graph is the normalized entity graph of one schema object. Construction is
// synchronous and pure; after Build returns, the graph never changes.
type Graph struct {
	entities   map[string]*Entity
	names      []string
	typeURIs   map[string]string
	normalized bool
}

// Build parses every entity of the schema, then runs the backref
// normalization pass. A malformed field definition fails the whole build:
// schemas fail fast before any data operation.
func Build(schema map[string]any) (*Graph, error) {
	g := &Graph{
		entities: make(map[string]*Entity, len(schema)),
		typeURIs: make(map[string]string, len(schema)),
	}
	g.names = make([]string, 0, len(schema))
	for name := range schema {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		ent, err := parseEntity(name, schema[name])
		if err != nil {
			return nil, err
		}
		g.entities[name] = ent
		g.typeURIs[name] = ent.TypeURI
	}
	g.normalize()
	return g, nil
}

func parseEntity(name string, def any) (*Entity, error) {
	ent := &Entity{
		Name:       name,
		Fields:     make(map[string]*field.Field),
		Directives: make(map[string]any),
	}
	switch d := def.(type) {
	case string:
		ent.TypeURI = d
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := d[k]
			if strings.HasPrefix(k, "$") {
				if k == "$type" {
					uri, ok := v.(string)
					if !ok {
						return nil, fmt.Errorf("weft: entity %s: $type must be a string, got %T", name, v)
					}
					ent.TypeURI = uri
					continue
				}
				ent.Directives[k] = v
				continue
			}
			f, err := field.ParseValue(v)
			if err != nil {
				return nil, fmt.Errorf("weft: entity %s, field %s: %w", name, k, err)
			}
			f.Name = k
			ent.Fields[k] = f
			ent.FieldOrder = append(ent.FieldOrder, k)
		}
	default:
		return nil, fmt.Errorf("weft: entity %s: definition must be a type-URI string or a field map, got %T", name, def)
	}
	if ent.TypeURI == "" {
		ent.TypeURI = DefaultTypeURI(name)
	}
	return ent, nil
}

// DefaultTypeURI derives the collection label used when an entity declares no
// $type: the pluralized snake-case entity name ("BlogPost" -> "blog_posts").
func DefaultTypeURI(name string) string {
	return inflect.Underscore(inflect.Pluralize(name))
}

// normalize synthesizes inverse fields for every relation declaring a
// backref. It runs exactly once per graph; the "existing field wins" rule
// also makes a second pass over an already-normalized graph a no-op.
func (g *Graph) normalize() {
	if g.normalized {
		return
	}
	for _, name := range g.names {
		src := g.entities[name]
		for _, fname := range append([]string(nil), src.FieldOrder...) {
			f := src.Fields[fname]
			if !f.IsRelation() || f.Backref == "" {
				continue
			}
			for _, target := range f.Targets() {
				tgt, ok := g.entities[target]
				if !ok {
					// The relation may point at an externally-owned
					// type; nothing to synthesize into.
					continue
				}
				if _, exists := tgt.Fields[f.Backref]; exists {
					continue
				}
				inv := &field.Field{
					Name:        f.Backref,
					Type:        field.TypeRelation,
					Op:          f.Op.Inverse(),
					RelatedType: src.Name,
					Backref:     f.Name,
					IsArray:     true,
					Synthesized: true,
				}
				if f.Threshold != nil {
					t := *f.Threshold
					inv.Threshold = &t
				}
				tgt.Fields[inv.Name] = inv
				tgt.FieldOrder = append(tgt.FieldOrder, inv.Name)
			}
		}
	}
	g.normalized = true
}

// Entity returns the named entity.
func (g *Graph) Entity(name string) (*Entity, bool) {
	e, ok := g.entities[name]
	return e, ok
}

// HasEntity reports whether the schema defines the named entity.
func (g *Graph) HasEntity(name string) bool {
	_, ok := g.entities[name]
	return ok
}

// Entities returns every entity, ordered by name.
func (g *Graph) Entities() []*Entity {
	out := make([]*Entity, 0, len(g.names))
	for _, name := range g.names {
		out = append(out, g.entities[name])
	}
	return out
}

// TypeURI returns the type URI recorded for the named entity.
func (g *Graph) TypeURI(name string) (string, bool) {
	uri, ok := g.typeURIs[name]
	return uri, ok
}

// RelationshipFields returns all relation fields of the named entity.
func (g *Graph) RelationshipFields(entity string) []*field.Field {
	e, ok := g.entities[entity]
	if !ok {
		return nil
	}
	return e.RelationFields()
}

// ReferencingEntities scans every entity's fields for relations whose target
// includes the given type, returning (entity, field) pairs in name order.
func (g *Graph) ReferencingEntities(target string) []Reference {
	var refs []Reference
	for _, name := range g.names {
		e := g.entities[name]
		for _, fname := range e.FieldOrder {
			f := e.Fields[fname]
			if !f.IsRelation() {
				continue
			}
			for _, t := range f.Targets() {
				if t == target {
					refs = append(refs, Reference{Entity: e, Field: f})
					break
				}
			}
		}
	}
	return refs
}
