// Package memory provides the in-memory reference implementation of the
// weft provider surface. It supports events, artifacts, batch writes and
// buffered transactions, and deliberately omits semantic search so fuzzy
// resolution exercises its degradation path against it.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/weftlabs/weft"
)

type relKey struct {
	FromType string
	FromID   string
	Relation string
	ToType   string
	ToID     string
}

// Provider is an in-memory document/relation store. Records are snapshotted
// through msgpack at the read/write boundary, so callers can never alias the
// stored maps.
type Provider struct {
	mu        sync.RWMutex
	records   map[string]map[string]weft.Record // type -> id -> record
	relations map[relKey]struct{}
	artifacts map[string][]byte
	events    []weft.Event
	handlers  map[string]map[int]func(weft.Event)
	nextSub   int
}

var (
	_ weft.Provider         = (*Provider)(nil)
	_ weft.EventProvider    = (*Provider)(nil)
	_ weft.ArtifactProvider = (*Provider)(nil)
	_ weft.BatchProvider    = (*Provider)(nil)
	_ weft.TxBeginner       = (*Provider)(nil)
)

// New returns an empty in-memory provider.
func New() *Provider {
	return &Provider{
		records:   make(map[string]map[string]weft.Record),
		relations: make(map[relKey]struct{}),
		artifacts: make(map[string][]byte),
		handlers:  make(map[string]map[int]func(weft.Event)),
	}
}

// snapshot deep-copies a record through a msgpack round trip.
func snapshot(rec weft.Record) weft.Record {
	raw, err := msgpack.Marshal(map[string]any(rec))
	if err != nil {
		// Non-serializable values should not reach the store; fall
		// back to a shallow copy rather than dropping the write.
		out := make(weft.Record, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return rec
	}
	return weft.Record(out)
}

// Get returns the record, or a NotFoundError.
func (p *Provider) Get(ctx context.Context, typ, id string) (weft.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[typ][id]
	if !ok {
		return nil, weft.NewNotFoundError(typ, id)
	}
	return snapshot(rec), nil
}

// List returns the type's records ordered by id.
func (p *Provider) List(ctx context.Context, typ string, opts weft.ListOptions) ([]weft.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	byID := p.records[typ]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if opts.Offset > 0 {
		if opts.Offset >= len(ids) {
			return nil, nil
		}
		ids = ids[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}
	out := make([]weft.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, snapshot(byID[id]))
	}
	return out, nil
}

// Search matches the query case-insensitively against string-valued fields.
func (p *Provider) Search(ctx context.Context, typ, query string, opts weft.SearchOptions) ([]weft.Record, error) {
	recs, err := p.List(ctx, typ, weft.ListOptions{})
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []weft.Record
	for _, rec := range recs {
		if matches(rec, q, opts.Fields) {
			out = append(out, rec)
			if opts.Limit > 0 && len(out) == opts.Limit {
				break
			}
		}
	}
	return out, nil
}

func matches(rec weft.Record, q string, fields []string) bool {
	check := func(key string, v any) bool {
		if key == "$id" || key == "$type" {
			return false
		}
		s, ok := v.(string)
		return ok && strings.Contains(strings.ToLower(s), q)
	}
	if len(fields) > 0 {
		for _, key := range fields {
			if check(key, rec[key]) {
				return true
			}
		}
		return false
	}
	for key, v := range rec {
		if check(key, v) {
			return true
		}
	}
	return false
}

// Create stores a new record. A missing id is generated; an existing
// (type,id) is overwritten, consistent with the last-write-wins seeding
// policy.
func (p *Provider) Create(ctx context.Context, typ, id string, data weft.Record) (weft.Record, error) {
	rec := snapshot(data)
	if id == "" {
		id = uuid.NewString()
	}
	rec["$id"] = id

	p.mu.Lock()
	if p.records[typ] == nil {
		p.records[typ] = make(map[string]weft.Record)
	}
	p.records[typ][id] = rec
	p.mu.Unlock()

	p.emit(weft.Event{Name: "created", Type: typ, ID: id, Payload: snapshot(rec), At: time.Now()})
	return snapshot(rec), nil
}

// Update merge-patches an existing record.
func (p *Provider) Update(ctx context.Context, typ, id string, data weft.Record) (weft.Record, error) {
	patch := snapshot(data)

	p.mu.Lock()
	rec, ok := p.records[typ][id]
	if !ok {
		p.mu.Unlock()
		return nil, weft.NewNotFoundError(typ, id)
	}
	for k, v := range patch {
		rec[k] = v
	}
	out := snapshot(rec)
	p.mu.Unlock()

	p.emit(weft.Event{Name: "updated", Type: typ, ID: id, Payload: snapshot(patch), At: time.Now()})
	return out, nil
}

// Delete removes a record and its relation tuples.
func (p *Provider) Delete(ctx context.Context, typ, id string) error {
	p.mu.Lock()
	if _, ok := p.records[typ][id]; !ok {
		p.mu.Unlock()
		return weft.NewNotFoundError(typ, id)
	}
	delete(p.records[typ], id)
	for key := range p.relations {
		if (key.FromType == typ && key.FromID == id) || (key.ToType == typ && key.ToID == id) {
			delete(p.relations, key)
		}
	}
	p.mu.Unlock()

	p.emit(weft.Event{Name: "deleted", Type: typ, ID: id, At: time.Now()})
	return nil
}

// Related answers from either side of the stored tuples: records that
// (typ,id) points at under relation, and records pointing at (typ,id) under
// relation.
func (p *Provider) Related(ctx context.Context, typ, id, relation string) ([]weft.Record, error) {
	p.mu.RLock()
	type hit struct{ typ, id string }
	var hits []hit
	for key := range p.relations {
		if key.Relation != relation {
			continue
		}
		if key.FromType == typ && key.FromID == id {
			hits = append(hits, hit{key.ToType, key.ToID})
		} else if key.ToType == typ && key.ToID == id {
			hits = append(hits, hit{key.FromType, key.FromID})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].id < hits[j].id })
	out := make([]weft.Record, 0, len(hits))
	for _, h := range hits {
		if rec, ok := p.records[h.typ][h.id]; ok {
			out = append(out, snapshot(rec))
		}
	}
	p.mu.RUnlock()
	return out, nil
}

// Relate stores a relation tuple. Duplicate tuples collapse.
func (p *Provider) Relate(ctx context.Context, typ, id, relation, targetType, targetID string) error {
	p.mu.Lock()
	p.relations[relKey{typ, id, relation, targetType, targetID}] = struct{}{}
	p.mu.Unlock()
	return nil
}

// Unrelate removes a relation tuple.
func (p *Provider) Unrelate(ctx context.Context, typ, id, relation, targetType, targetID string) error {
	p.mu.Lock()
	delete(p.relations, relKey{typ, id, relation, targetType, targetID})
	p.mu.Unlock()
	return nil
}

// Seed bulk-loads reference records. Duplicate $id values follow
// last-write-wins, consistent with update semantics.
func (p *Provider) Seed(ctx context.Context, typ string, records []weft.Record) error {
	for _, rec := range records {
		if _, err := p.Create(ctx, typ, rec.ID(), rec); err != nil {
			return err
		}
	}
	return nil
}

// BeginTx returns a write buffer over this provider.
func (p *Provider) BeginTx(ctx context.Context) (weft.Tx, error) {
	return weft.NewBuffer(p), nil
}

// CreateMany stores records in bulk.
func (p *Provider) CreateMany(ctx context.Context, typ string, records []weft.Record) error {
	return p.Seed(ctx, typ, records)
}

// DeleteMany removes records in bulk, ignoring missing ids.
func (p *Provider) DeleteMany(ctx context.Context, typ string, ids []string) error {
	for _, id := range ids {
		if err := p.Delete(ctx, typ, id); err != nil && !weft.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// GetArtifact returns a stored blob.
func (p *Provider) GetArtifact(ctx context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	blob, ok := p.artifacts[key]
	if !ok {
		return nil, weft.NewNotFoundError("artifact", key)
	}
	return append([]byte(nil), blob...), nil
}

// SetArtifact stores a blob.
func (p *Provider) SetArtifact(ctx context.Context, key string, data []byte) error {
	p.mu.Lock()
	p.artifacts[key] = append([]byte(nil), data...)
	p.mu.Unlock()
	return nil
}

// DeleteArtifact removes a blob.
func (p *Provider) DeleteArtifact(ctx context.Context, key string) error {
	p.mu.Lock()
	delete(p.artifacts, key)
	p.mu.Unlock()
	return nil
}

// ListArtifacts returns the keys under a prefix, sorted.
func (p *Provider) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	p.mu.RLock()
	var keys []string
	for key := range p.artifacts {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	p.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// On registers an event handler; the returned cancel unregisters it.
func (p *Provider) On(event string, handler func(weft.Event)) func() {
	p.mu.Lock()
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]func(weft.Event))
	}
	sub := p.nextSub
	p.nextSub++
	p.handlers[event][sub] = handler
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers[event], sub)
		p.mu.Unlock()
	}
}

// Emit appends an event and fans it out to handlers synchronously.
func (p *Provider) Emit(ctx context.Context, ev weft.Event) error {
	p.emit(ev)
	return nil
}

func (p *Provider) emit(ev weft.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	var hs []func(weft.Event)
	for _, h := range p.handlers[ev.Name] {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// ListEvents returns the event log in append order.
func (p *Provider) ListEvents(ctx context.Context, opts weft.ListOptions) ([]weft.Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	evs := p.events
	if opts.Offset > 0 {
		if opts.Offset >= len(evs) {
			return nil, nil
		}
		evs = evs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(evs) {
		evs = evs[:opts.Limit]
	}
	return append([]weft.Event(nil), evs...), nil
}

// ReplayEvents feeds every event at or after since to the handler.
func (p *Provider) ReplayEvents(ctx context.Context, since time.Time, handler func(weft.Event)) error {
	evs, err := p.ListEvents(ctx, weft.ListOptions{})
	if err != nil {
		return err
	}
	for _, ev := range evs {
		if ev.At.Before(since) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		handler(ev)
	}
	return nil
}
