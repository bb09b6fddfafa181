// Package sqlitedb implements the weft provider surface on a SQLite
// database. Records are stored as JSON rows keyed by (type, id); relation
// tuples live in their own table so Related can answer from either side.
package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/weftlabs/weft"
)

// Provider is a SQLite-backed store. It is safe for concurrent use; the
// underlying *sql.DB pools connections.
type Provider struct {
	db *sql.DB
}

var (
	_ weft.Provider         = (*Provider)(nil)
	_ weft.ArtifactProvider = (*Provider)(nil)
	_ weft.BatchProvider    = (*Provider)(nil)
	_ weft.TxBeginner       = (*Provider)(nil)
)

// New wraps an already-open database handle. The caller owns the handle and
// must run Init before first use unless the schema already exists.
func New(db *sql.DB) *Provider {
	return &Provider{db: db}
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(ctx context.Context, path string) (*Provider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: opening %s: %w", path, err)
	}
	p := New(db)
	if err := p.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Init creates the schema if it does not exist.
func (p *Provider) Init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS records (
	type TEXT NOT NULL,
	id   TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (type, id)
);
CREATE TABLE IF NOT EXISTS relations (
	from_type TEXT NOT NULL,
	from_id   TEXT NOT NULL,
	relation  TEXT NOT NULL,
	to_type   TEXT NOT NULL,
	to_id     TEXT NOT NULL,
	PRIMARY KEY (from_type, from_id, relation, to_type, to_id)
);
CREATE TABLE IF NOT EXISTS artifacts (
	key  TEXT NOT NULL PRIMARY KEY,
	data BLOB NOT NULL
);`
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlitedb: initializing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (p *Provider) Close() error {
	return p.db.Close()
}

func decodeRecord(raw string) (weft.Record, error) {
	var rec weft.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("sqlitedb: decoding record: %w", err)
	}
	return rec, nil
}

func encodeRecord(rec weft.Record) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("sqlitedb: encoding record: %w", err)
	}
	return string(raw), nil
}

// Get returns the record, or a NotFoundError.
func (p *Provider) Get(ctx context.Context, typ, id string) (weft.Record, error) {
	var raw string
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE type = ? AND id = ?`, typ, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, weft.NewNotFoundError(typ, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: get %s/%s: %w", typ, id, err)
	}
	return decodeRecord(raw)
}

// List returns the type's records ordered by id.
func (p *Provider) List(ctx context.Context, typ string, opts weft.ListOptions) ([]weft.Record, error) {
	q := `SELECT data FROM records WHERE type = ? ORDER BY id`
	args := []any{typ}
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit == 0 {
			limit = -1
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}
	return p.queryRecords(ctx, q, args...)
}

// Search matches the query case-insensitively against the JSON document. An
// opts.Fields restriction narrows matching to the named keys.
func (p *Provider) Search(ctx context.Context, typ, query string, opts weft.SearchOptions) ([]weft.Record, error) {
	recs, err := p.queryRecords(ctx,
		`SELECT data FROM records WHERE type = ? AND data LIKE ? ESCAPE '\' ORDER BY id`,
		typ, "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []weft.Record
	for _, rec := range recs {
		if !searchMatch(rec, q, opts.Fields) {
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// searchMatch re-checks a LIKE hit against field values, so matches inside
// JSON keys or unrelated fields do not leak through.
func searchMatch(rec weft.Record, q string, fields []string) bool {
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

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func (p *Provider) queryRecords(ctx context.Context, q string, args ...any) ([]weft.Record, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: query: %w", err)
	}
	defer rows.Close()
	var out []weft.Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlitedb: scan: %w", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitedb: rows: %w", err)
	}
	return out, nil
}

// Create stores a new record, overwriting any existing (type, id) row.
func (p *Provider) Create(ctx context.Context, typ, id string, data weft.Record) (weft.Record, error) {
	rec := make(weft.Record, len(data)+1)
	for k, v := range data {
		rec[k] = v
	}
	if id == "" {
		id = uuid.NewString()
	}
	rec["$id"] = id
	raw, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO records (type, id, data) VALUES (?, ?, ?)
		 ON CONFLICT (type, id) DO UPDATE SET data = excluded.data`,
		typ, id, raw)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: create %s/%s: %w", typ, id, err)
	}
	return rec, nil
}

// Update merge-patches an existing record.
func (p *Provider) Update(ctx context.Context, typ, id string, data weft.Record) (weft.Record, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: update %s/%s: %w", typ, id, err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM records WHERE type = ? AND id = ?`, typ, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, weft.NewNotFoundError(typ, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: update %s/%s: %w", typ, id, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	for k, v := range data {
		rec[k] = v
	}
	merged, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET data = ? WHERE type = ? AND id = ?`, merged, typ, id); err != nil {
		return nil, fmt.Errorf("sqlitedb: update %s/%s: %w", typ, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlitedb: update %s/%s: %w", typ, id, err)
	}
	return rec, nil
}

// Delete removes a record and its relation tuples.
func (p *Provider) Delete(ctx context.Context, typ, id string) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM records WHERE type = ? AND id = ?`, typ, id)
	if err != nil {
		return fmt.Errorf("sqlitedb: delete %s/%s: %w", typ, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return weft.NewNotFoundError(typ, id)
	}
	_, err = p.db.ExecContext(ctx,
		`DELETE FROM relations
		 WHERE (from_type = ? AND from_id = ?) OR (to_type = ? AND to_id = ?)`,
		typ, id, typ, id)
	if err != nil {
		return fmt.Errorf("sqlitedb: delete relations of %s/%s: %w", typ, id, err)
	}
	return nil
}

// Related answers from either side of the stored tuples.
func (p *Provider) Related(ctx context.Context, typ, id, relation string) ([]weft.Record, error) {
	return p.queryRecords(ctx, `
		SELECT r.data FROM relations t
		JOIN records r ON r.type = t.to_type AND r.id = t.to_id
		WHERE t.relation = ? AND t.from_type = ? AND t.from_id = ?
		UNION
		SELECT r.data FROM relations t
		JOIN records r ON r.type = t.from_type AND r.id = t.from_id
		WHERE t.relation = ? AND t.to_type = ? AND t.to_id = ?
		ORDER BY 1`,
		relation, typ, id, relation, typ, id)
}

// Relate stores a relation tuple. Duplicate tuples collapse.
func (p *Provider) Relate(ctx context.Context, typ, id, relation, targetType, targetID string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relations (from_type, from_id, relation, to_type, to_id)
		 VALUES (?, ?, ?, ?, ?)`,
		typ, id, relation, targetType, targetID)
	if err != nil {
		return fmt.Errorf("sqlitedb: relate %s/%s: %w", typ, id, err)
	}
	return nil
}

// Unrelate removes a relation tuple.
func (p *Provider) Unrelate(ctx context.Context, typ, id, relation, targetType, targetID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM relations
		 WHERE from_type = ? AND from_id = ? AND relation = ? AND to_type = ? AND to_id = ?`,
		typ, id, relation, targetType, targetID)
	if err != nil {
		return fmt.Errorf("sqlitedb: unrelate %s/%s: %w", typ, id, err)
	}
	return nil
}

// BeginTx returns a write buffer over this provider.
func (p *Provider) BeginTx(ctx context.Context) (weft.Tx, error) {
	return weft.NewBuffer(p), nil
}

// CreateMany stores records in one database transaction.
func (p *Provider) CreateMany(ctx context.Context, typ string, records []weft.Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitedb: batch create: %w", err)
	}
	defer tx.Rollback()
	for _, data := range records {
		rec := make(weft.Record, len(data)+1)
		for k, v := range data {
			rec[k] = v
		}
		if rec.ID() == "" {
			rec["$id"] = uuid.NewString()
		}
		raw, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (type, id, data) VALUES (?, ?, ?)
			 ON CONFLICT (type, id) DO UPDATE SET data = excluded.data`,
			typ, rec.ID(), raw); err != nil {
			return fmt.Errorf("sqlitedb: batch create %s: %w", typ, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitedb: batch create: %w", err)
	}
	return nil
}

// DeleteMany removes records in one database transaction, ignoring missing
// ids.
func (p *Provider) DeleteMany(ctx context.Context, typ string, ids []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitedb: batch delete: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE type = ? AND id = ?`, typ, id); err != nil {
			return fmt.Errorf("sqlitedb: batch delete %s/%s: %w", typ, id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relations
			 WHERE (from_type = ? AND from_id = ?) OR (to_type = ? AND to_id = ?)`,
			typ, id, typ, id); err != nil {
			return fmt.Errorf("sqlitedb: batch delete relations %s/%s: %w", typ, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitedb: batch delete: %w", err)
	}
	return nil
}

// GetArtifact returns a stored blob.
func (p *Provider) GetArtifact(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM artifacts WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, weft.NewNotFoundError("artifact", key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: get artifact %s: %w", key, err)
	}
	return data, nil
}

// SetArtifact stores a blob.
func (p *Provider) SetArtifact(ctx context.Context, key string, data []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO artifacts (key, data) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data`,
		key, data)
	if err != nil {
		return fmt.Errorf("sqlitedb: set artifact %s: %w", key, err)
	}
	return nil
}

// DeleteArtifact removes a blob.
func (p *Provider) DeleteArtifact(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlitedb: delete artifact %s: %w", key, err)
	}
	return nil
}

// ListArtifacts returns the keys under a prefix, sorted.
func (p *Provider) ListArtifacts(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT key FROM artifacts WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: list artifacts: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlitedb: scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitedb: rows: %w", err)
	}
	return keys, nil
}
