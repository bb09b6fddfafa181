package weft

import (
	"context"
	"strings"
	"sync"
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
	opRelate
	opUnrelate
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	case opRelate:
		return "relate"
	case opUnrelate:
		return "unrelate"
	}
	return "unknown"
}

type bufOp struct {
	kind       opKind
	typ        string
	id         string
	data       Record
	relation   string
	targetType string
	targetID   string
}

// A Buffer is a write-buffering Tx over any provider: reads observe buffered
// writes first, nothing touches the provider until Commit, and a failed
// commit undoes whatever it had applied so no partial state stays visible.
// A Buffer has a single writer and is never shared across cascades.
type Buffer struct {
	p Provider

	mu      sync.Mutex
	ops     []bufOp
	patches map[string]Record // buffered creates/updates, merged per record
	created map[string]bool
	deleted map[string]bool
	done    bool
}

var _ Tx = (*Buffer)(nil)

// NewBuffer returns an empty transaction buffer over the provider.
func NewBuffer(p Provider) *Buffer {
	return &Buffer{
		p:       p,
		patches: make(map[string]Record),
		created: make(map[string]bool),
		deleted: make(map[string]bool),
	}
}

func bufKey(typ, id string) string { return typ + "\x00" + id }

// Get returns the buffered view of a record: buffered writes overlay the
// provider's copy, buffered deletes hide it.
func (b *Buffer) Get(ctx context.Context, typ, id string) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, ErrTxDone
	}
	key := bufKey(typ, id)
	if b.deleted[key] {
		return nil, NewNotFoundError(typ, id)
	}
	patch, buffered := b.patches[key]
	if buffered && b.created[key] {
		return cloneRecord(patch), nil
	}
	// An update patch without a base row stays invisible: Commit would
	// fail the same way, so reads must not conjure a record from it.
	base, err := b.p.Get(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	if !buffered {
		return base, nil
	}
	merged := cloneRecord(base)
	for k, v := range patch {
		merged[k] = v
	}
	return merged, nil
}

// List merges the provider's records with buffered creates, updates and
// deletes for the type.
func (b *Buffer) List(ctx context.Context, typ string, opts ListOptions) ([]Record, error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return nil, ErrTxDone
	}
	b.mu.Unlock()

	base, err := b.p.List(ctx, typ, opts)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, 0, len(base))
	seen := make(map[string]bool, len(base))
	for _, rec := range base {
		key := bufKey(typ, rec.ID())
		seen[key] = true
		if b.deleted[key] {
			continue
		}
		if patch, ok := b.patches[key]; ok {
			merged := cloneRecord(rec)
			for k, v := range patch {
				merged[k] = v
			}
			out = append(out, merged)
			continue
		}
		out = append(out, rec)
	}
	prefix := typ + "\x00"
	for key := range b.created {
		if !strings.HasPrefix(key, prefix) || seen[key] || b.deleted[key] {
			continue
		}
		out = append(out, cloneRecord(b.patches[key]))
	}
	return out, nil
}

// Search passes through to the provider; buffered (uncommitted) records are
// not indexed for search.
func (b *Buffer) Search(ctx context.Context, typ, query string, opts SearchOptions) ([]Record, error) {
	recs, err := b.p.Search(ctx, typ, query, opts)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := recs[:0]
	for _, rec := range recs {
		if !b.deleted[bufKey(typ, rec.ID())] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Create buffers a new record keyed by (type, id).
func (b *Buffer) Create(ctx context.Context, typ, id string, data Record) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, ErrTxDone
	}
	key := bufKey(typ, id)
	rec := cloneRecord(data)
	b.patches[key] = rec
	b.created[key] = true
	delete(b.deleted, key)
	b.ops = append(b.ops, bufOp{kind: opCreate, typ: typ, id: id, data: cloneRecord(data)})
	return cloneRecord(rec), nil
}

// Update buffers a merge-patch for the record.
func (b *Buffer) Update(ctx context.Context, typ, id string, data Record) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, ErrTxDone
	}
	key := bufKey(typ, id)
	patch, ok := b.patches[key]
	if !ok {
		patch = make(Record, len(data))
		b.patches[key] = patch
	}
	for k, v := range data {
		patch[k] = v
	}
	b.ops = append(b.ops, bufOp{kind: opUpdate, typ: typ, id: id, data: cloneRecord(data)})
	return cloneRecord(patch), nil
}

// Delete buffers a delete for the record.
func (b *Buffer) Delete(ctx context.Context, typ, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return ErrTxDone
	}
	key := bufKey(typ, id)
	b.deleted[key] = true
	delete(b.patches, key)
	delete(b.created, key)
	b.ops = append(b.ops, bufOp{kind: opDelete, typ: typ, id: id})
	return nil
}

// Related answers from the provider adjusted by buffered relate/unrelate
// operations on either side of the tuple.
func (b *Buffer) Related(ctx context.Context, typ, id, relation string) ([]Record, error) {
	base, err := b.p.Related(ctx, typ, id, relation)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	pending := make([]bufOp, 0)
	for _, op := range b.ops {
		if op.kind != opRelate && op.kind != opUnrelate {
			continue
		}
		if op.relation != relation {
			continue
		}
		if (op.typ == typ && op.id == id) || (op.targetType == typ && op.targetID == id) {
			pending = append(pending, op)
		}
	}
	b.mu.Unlock()

	out := base
	for _, op := range pending {
		otherType, otherID := op.targetType, op.targetID
		if op.targetType == typ && op.targetID == id {
			otherType, otherID = op.typ, op.id
		}
		if op.kind == opUnrelate {
			kept := out[:0]
			for _, rec := range out {
				if rec.ID() != otherID {
					kept = append(kept, rec)
				}
			}
			out = kept
			continue
		}
		rec, err := b.Get(ctx, otherType, otherID)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Relate buffers a relation tuple.
func (b *Buffer) Relate(ctx context.Context, typ, id, relation, targetType, targetID string) error {
	return b.relateOp(opRelate, typ, id, relation, targetType, targetID)
}

// Unrelate buffers removal of a relation tuple.
func (b *Buffer) Unrelate(ctx context.Context, typ, id, relation, targetType, targetID string) error {
	return b.relateOp(opUnrelate, typ, id, relation, targetType, targetID)
}

func (b *Buffer) relateOp(kind opKind, typ, id, relation, targetType, targetID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return ErrTxDone
	}
	b.ops = append(b.ops, bufOp{
		kind: kind, typ: typ, id: id,
		relation: relation, targetType: targetType, targetID: targetID,
	})
	return nil
}

// Commit applies the buffered operations in buffering order. The first
// failure stops the apply, undoes the operations already applied, and
// surfaces a *CommitError; the buffer is finished either way and the caller
// must retry with a new transaction.
func (b *Buffer) Commit(ctx context.Context) error {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return ErrTxDone
	}
	b.done = true
	ops := b.ops
	b.mu.Unlock()

	var undos []func()
	for i, op := range ops {
		undo, err := b.apply(ctx, op)
		if err != nil {
			for j := len(undos) - 1; j >= 0; j-- {
				undos[j]()
			}
			return &CommitError{Index: i, Op: op.kind.String(), Err: err}
		}
		if undo != nil {
			undos = append(undos, undo)
		}
	}
	return nil
}

func (b *Buffer) apply(ctx context.Context, op bufOp) (undo func(), err error) {
	p := b.p
	switch op.kind {
	case opCreate:
		if _, err := p.Create(ctx, op.typ, op.id, op.data); err != nil {
			return nil, err
		}
		return func() { _ = p.Delete(ctx, op.typ, op.id) }, nil
	case opUpdate:
		prev, err := p.Get(ctx, op.typ, op.id)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		if _, err := p.Update(ctx, op.typ, op.id, op.data); err != nil {
			return nil, err
		}
		return func() {
			// Restore the full previous record; merge-patch alone
			// cannot drop keys the failed commit introduced.
			_ = p.Delete(ctx, op.typ, op.id)
			if prev != nil {
				_, _ = p.Create(ctx, op.typ, op.id, prev)
			}
		}, nil
	case opDelete:
		prev, err := p.Get(ctx, op.typ, op.id)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		if err := p.Delete(ctx, op.typ, op.id); err != nil {
			return nil, err
		}
		return func() {
			if prev != nil {
				_, _ = p.Create(ctx, op.typ, op.id, prev)
			}
		}, nil
	case opRelate:
		if err := p.Relate(ctx, op.typ, op.id, op.relation, op.targetType, op.targetID); err != nil {
			return nil, err
		}
		return func() {
			_ = p.Unrelate(ctx, op.typ, op.id, op.relation, op.targetType, op.targetID)
		}, nil
	case opUnrelate:
		if err := p.Unrelate(ctx, op.typ, op.id, op.relation, op.targetType, op.targetID); err != nil {
			return nil, err
		}
		return func() {
			_ = p.Relate(ctx, op.typ, op.id, op.relation, op.targetType, op.targetID)
		}, nil
	}
	return nil, nil
}

// Rollback discards the buffered operations with no provider effect.
func (b *Buffer) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return ErrTxDone
	}
	b.done = true
	b.ops = nil
	b.patches = nil
	b.created = nil
	b.deleted = nil
	return nil
}

func cloneRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
