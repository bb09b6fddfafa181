package weft

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/search"

	"github.com/weftlabs/weft/schema/field"
)

// ResolveOptions tunes one resolution call.
type ResolveOptions struct {
	// Hint overrides the stored "<field>Hint" value and the field prompt
	// as the fuzzy-match input.
	Hint string
	// AllowGenerate permits creating a new target on a backward fuzzy
	// (grounding) relation when nothing matches. Forward fuzzy relations
	// always may generate. Grounding against empty reference data
	// resolves to nil by default rather than inventing a taxonomy entry.
	AllowGenerate bool
}

// resolveRelation resolves one relation field of an entity. Writes go to tx
// when a transaction is open, directly to the provider otherwise.
func (rt *Runtime) resolveRelation(ctx context.Context, tx Tx, e *Entity, f *field.Field, opts ResolveOptions) (any, error) {
	switch {
	case f.Direction() == field.Forward && f.MatchMode() == field.Exact:
		return rt.resolveForwardExact(ctx, tx, e, f)
	case f.Direction() == field.Forward:
		return rt.resolveFuzzy(ctx, tx, e, f, opts, true)
	case f.MatchMode() == field.Exact:
		return rt.resolveBackwardExact(ctx, tx, e, f)
	default:
		return rt.resolveFuzzy(ctx, tx, e, f, opts, opts.AllowGenerate)
	}
}

// resolveForwardExact fetches the stored id(s). A missing id or missing
// target resolves to nil; only a required field turns absence into an error.
func (rt *Runtime) resolveForwardExact(ctx context.Context, tx Tx, e *Entity, f *field.Field) (any, error) {
	store := rt.store(tx)
	if f.IsArray {
		ids := stringList(e.Field(f.Name))
		if len(ids) == 0 {
			if f.Required {
				return nil, NewResolutionError(e.typ, e.ID(), f.Name, ErrNotFound)
			}
			return nil, nil
		}
		out := make([]*Entity, 0, len(ids))
		for _, id := range ids {
			rec, err := store.Get(ctx, f.RelatedType, id)
			if IsNotFound(err) {
				if f.Required {
					return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
				}
				continue
			}
			if err != nil {
				return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
			}
			out = append(out, rt.newEntity(f.RelatedType, rec))
		}
		return out, nil
	}

	id, _ := e.Field(f.Name).(string)
	if id == "" {
		if f.Required {
			return nil, NewResolutionError(e.typ, e.ID(), f.Name, ErrNotFound)
		}
		return nil, nil
	}
	rec, err := store.Get(ctx, f.RelatedType, id)
	if IsNotFound(err) {
		if f.Required {
			return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
	}
	return rt.newEntity(f.RelatedType, rec), nil
}

// resolveBackwardExact queries the inverse side's forward links pointing at
// this entity. No value is stored locally; the result may be empty.
func (rt *Runtime) resolveBackwardExact(ctx context.Context, tx Tx, e *Entity, f *field.Field) (any, error) {
	rel := f.Backref
	if rel == "" {
		rel = f.Name
	}
	recs, err := rt.store(tx).Related(ctx, e.typ, e.ID(), rel)
	if err != nil {
		return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
	}
	out := make([]*Entity, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rt.newEntity(f.RelatedType, rec))
	}
	return out, nil
}

// resolveFuzzy resolves a fuzzy relation by, in order: semantic search when
// the provider has it, folded text matching over listed candidates, and
// generation through the collaborator. The missing-semantic-search case is a
// degradation path, never an error.
func (rt *Runtime) resolveFuzzy(ctx context.Context, tx Tx, e *Entity, f *field.Field, opts ResolveOptions, allowGenerate bool) (any, error) {
	store := rt.store(tx)

	// An already-established link wins over re-matching.
	if f.Direction() == field.Forward {
		if id, _ := e.Field(f.Name).(string); id != "" {
			rec, err := store.Get(ctx, f.RelatedType, id)
			if err == nil {
				return rt.fuzzyResult(f, rec), nil
			}
			if !IsNotFound(err) {
				return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
			}
		}
	} else if e.ID() != "" {
		recs, err := store.Related(ctx, e.typ, e.ID(), f.Name)
		if err == nil && len(recs) > 0 {
			if f.IsArray {
				out := make([]*Entity, 0, len(recs))
				for _, rec := range recs {
					out = append(out, rt.newEntity(f.RelatedType, rec))
				}
				return out, nil
			}
			return rt.newEntity(f.RelatedType, recs[0]), nil
		}
	}

	hint := opts.Hint
	if hint == "" {
		hint, _ = e.Field(f.Name + "Hint").(string)
	}
	if hint == "" {
		hint = f.Prompt
	}
	if hint == "" {
		return rt.fuzzyMiss(e, f)
	}
	threshold := f.EffectiveThreshold()

	// (a) semantic search, top hit only, reuse iff score clears the
	// threshold.
	if ss, ok := rt.provider.(SemanticSearcher); ok && rt.caps.SemanticSearch {
		for _, target := range f.Targets() {
			hits, err := ss.SemanticSearch(ctx, target, hint, SemanticOptions{Limit: 1})
			if err != nil {
				// Degrade to text matching.
				rt.logger.Debug("semantic search failed, degrading to text match",
					"type", target, "error", err)
				break
			}
			if len(hits) > 0 && hits[0].Score >= threshold {
				return rt.link(ctx, store, e, f, target, hits[0].Record)
			}
		}
	}

	// (b) folded substring matching over all string-valued fields of
	// existing candidates.
	for _, target := range f.Targets() {
		recs, err := store.List(ctx, target, ListOptions{})
		if err != nil {
			rt.logger.Debug("candidate listing failed during fuzzy resolution",
				"type", target, "error", err)
			continue
		}
		var (
			best      Record
			bestScore float64
		)
		for _, rec := range recs {
			if s := textScore(hint, rec); s > bestScore {
				best, bestScore = rec, s
			}
		}
		if best != nil && bestScore >= threshold {
			return rt.link(ctx, store, e, f, target, best)
		}
	}

	// (c) generate a new target from the hint.
	if !allowGenerate {
		return rt.fuzzyMiss(e, f)
	}
	return rt.generateTarget(ctx, store, e, f, hint)
}

func (rt *Runtime) fuzzyMiss(e *Entity, f *field.Field) (any, error) {
	if f.Direction() == field.Forward && f.Required {
		return nil, NewResolutionError(e.typ, e.ID(), f.Name, ErrNotFound)
	}
	return nil, nil
}

func (rt *Runtime) generateTarget(ctx context.Context, store Provider, e *Entity, f *field.Field, hint string) (any, error) {
	target := f.RelatedType
	if rt.generator == nil {
		return nil, NewResolutionError(e.typ, e.ID(), f.Name,
			NewGenerationError(target, errors.New("no generator configured")))
	}
	ent, ok := rt.graph.Entity(target)
	var (
		uri  string
		dirs map[string]any
	)
	if ok {
		uri, dirs = ent.TypeURI, ent.Directives
	}
	vals, err := rt.generator.Generate(ctx, GenerateRequest{
		EntityType: target,
		TypeURI:    uri,
		Directives: dirs,
		Prompt:     hint,
		Context:    e.Data(),
	})
	if err != nil {
		return nil, NewResolutionError(e.typ, e.ID(), f.Name, NewGenerationError(target, err))
	}
	rec := make(Record, len(vals)+2)
	for k, v := range vals {
		rec[k] = v
	}
	if rec.ID() == "" {
		rec["$id"] = uuid.NewString()
	}
	if rec.TypeURI() == "" && uri != "" {
		rec["$type"] = uri
	}
	stored, err := store.Create(ctx, target, rec.ID(), rec)
	if err != nil {
		return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
	}
	return rt.link(ctx, store, e, f, target, stored)
}

// link records the resolved target on the owning side: forward relations
// store the id and a relation tuple, backward fuzzy (grounding) relations
// store the tuple only.
func (rt *Runtime) link(ctx context.Context, store Provider, e *Entity, f *field.Field, target string, rec Record) (any, error) {
	id := rec.ID()
	if f.Direction() == field.Forward {
		e.setField(f.Name, id)
		if e.ID() != "" {
			if _, err := store.Update(ctx, e.typ, e.ID(), Record{f.Name: id}); err != nil {
				return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
			}
			if err := store.Relate(ctx, e.typ, e.ID(), f.Name, target, id); err != nil {
				return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
			}
		}
	} else if e.ID() != "" {
		if err := store.Relate(ctx, e.typ, e.ID(), f.Name, target, id); err != nil {
			return nil, NewResolutionError(e.typ, e.ID(), f.Name, err)
		}
	}
	return rt.fuzzyResult(f, rec), nil
}

func (rt *Runtime) fuzzyResult(f *field.Field, rec Record) any {
	ent := rt.newEntity(f.RelatedType, rec)
	if f.IsArray {
		return []*Entity{ent}
	}
	return ent
}

// textMatcher folds case and diacritics, so "Software Developer" matches a
// hint mentioning "software".
var textMatcher = search.New(language.Und, search.IgnoreCase, search.IgnoreDiacritics)

func foldContains(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	start, _ := textMatcher.IndexString(haystack, needle)
	return start >= 0
}

// textScore rates how well a record matches a hint, in [0,1]. A direct
// substring hit in either direction scores 1.0; otherwise the score is the
// fraction of the field value's tokens found in the hint. The threshold
// applies to this score exactly as it does to semantic similarity.
func textScore(hint string, rec Record) float64 {
	var best float64
	for key, v := range rec {
		if key == "$id" || key == "$type" {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		if foldContains(hint, s) || foldContains(s, hint) {
			return 1
		}
		tokens := tokenize(s)
		if len(tokens) == 0 {
			continue
		}
		matched := 0
		for _, tok := range tokens {
			if foldContains(hint, tok) {
				matched++
			}
		}
		if score := float64(matched) / float64(len(tokens)); score > best {
			best = score
		}
	}
	return best
}

func tokenize(s string) []string {
	var (
		tokens []string
		start  = -1
	)
	for i, r := range s {
		letter := r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r > 127
		if letter {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

func stringList(v any) []string {
	switch ids := v.(type) {
	case []string:
		return ids
	case []any:
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if ids == "" {
			return nil
		}
		return []string{ids}
	}
	return nil
}
