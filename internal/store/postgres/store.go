// Package postgres keeps imported records, saved field mappings and the
// import run history in PostgreSQL.
//
// Records of every kind share one table and are stored as JSON documents;
// the engine owns their shape, the database only indexes identity.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/tabimport/internal/core"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	kind         TEXT        NOT NULL,
	id           TEXT        NOT NULL,
	external_ref TEXT        NOT NULL DEFAULT '',
	data         JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS records_external_ref_idx ON records (kind, external_ref) WHERE external_ref <> '';

CREATE TABLE IF NOT EXISTS field_mappings (
	kind       TEXT        NOT NULL,
	source     TEXT        NOT NULL,
	fields     JSONB       NOT NULL,
	headers    TEXT[]      NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, source)
);

CREATE TABLE IF NOT EXISTS import_runs (
	id           UUID        PRIMARY KEY,
	kind         TEXT        NOT NULL,
	source       TEXT        NOT NULL,
	status       TEXT        NOT NULL,
	total_rows   INTEGER     NOT NULL DEFAULT 0,
	added        INTEGER     NOT NULL DEFAULT 0,
	updated      INTEGER     NOT NULL DEFAULT 0,
	skipped      INTEGER     NOT NULL DEFAULT 0,
	filtered     INTEGER     NOT NULL DEFAULT 0,
	failed       INTEGER     NOT NULL DEFAULT 0,
	write_failed INTEGER     NOT NULL DEFAULT 0,
	degraded     INTEGER     NOT NULL DEFAULT 0,
	duration_ms  INTEGER     NOT NULL DEFAULT 0,
	error        TEXT        NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS import_runs_kind_idx ON import_runs (kind, created_at DESC);
`

// Store is the PostgreSQL-backed record collection. It is a core.RecordSink
// and a core.MappingStore.
type Store struct {
	db core.DBTX
}

// New returns a Store over db, usually a *pgxpool.Pool.
func New(db core.DBTX) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Records
// ----------------------------------------------------------------------------

// LoadRecords returns every stored record of kind, oldest first.
func (s *Store) LoadRecords(ctx context.Context, kind core.Kind) ([]core.Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT data FROM records WHERE kind = $1 ORDER BY created_at, id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("load %s records: %w", kind, err)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", kind, err)
		}
		rec, err := core.DecodeRecord(kind, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s records: %w", kind, err)
	}
	return out, nil
}

// Upsert inserts rec or replaces the stored record with the same kind and ID.
func (s *Store) Upsert(ctx context.Context, rec core.Record) error {
	m := rec.Base()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", m.ID, err)
	}

	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = m.CreatedAt
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO records (kind, id, external_ref, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, id) DO UPDATE
		SET external_ref = EXCLUDED.external_ref,
		    data         = EXCLUDED.data,
		    updated_at   = EXCLUDED.updated_at`,
		string(rec.Kind()), m.ID, m.ExternalRef, data, m.CreatedAt, updated,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", m.ID, err)
	}
	return nil
}

// CountRecords returns the number of stored records of kind.
func (s *Store) CountRecords(ctx context.Context, kind core.Kind) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM records WHERE kind = $1`, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s records: %w", kind, err)
	}
	return n, nil
}

// ResetKind deletes every record of kind and returns how many were removed.
func (s *Store) ResetKind(ctx context.Context, kind core.Kind) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM records WHERE kind = $1`, string(kind))
	if err != nil {
		return 0, fmt.Errorf("reset %s records: %w", kind, err)
	}
	return tag.RowsAffected(), nil
}

// ----------------------------------------------------------------------------
// Field mappings
// ----------------------------------------------------------------------------

func (s *Store) Load(ctx context.Context, key core.MappingKey) (*core.StoredMapping, error) {
	m := core.StoredMapping{Key: key}
	var fields []byte
	err := s.db.QueryRow(ctx,
		`SELECT fields, headers, updated_at FROM field_mappings WHERE kind = $1 AND source = $2`,
		string(key.Kind), key.Source,
	).Scan(&fields, &m.Headers, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load mapping %s: %w", key, err)
	}
	if err := json.Unmarshal(fields, &m.Fields); err != nil {
		return nil, fmt.Errorf("decode mapping %s: %w", key, err)
	}
	return &m, nil
}

func (s *Store) Save(ctx context.Context, m core.StoredMapping) error {
	fields, err := json.Marshal(m.Fields)
	if err != nil {
		return fmt.Errorf("encode mapping %s: %w", m.Key, err)
	}
	headers := m.Headers
	if headers == nil {
		headers = []string{}
	}
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = core.Now()
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO field_mappings (kind, source, fields, headers, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, source) DO UPDATE
		SET fields = EXCLUDED.fields, headers = EXCLUDED.headers, updated_at = EXCLUDED.updated_at`,
		string(m.Key.Kind), m.Key.Source, fields, headers, updated,
	)
	if err != nil {
		return fmt.Errorf("save mapping %s: %w", m.Key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, kind core.Kind) ([]core.StoredMapping, error) {
	rows, err := s.db.Query(ctx,
		`SELECT source, fields, headers, updated_at FROM field_mappings WHERE kind = $1 ORDER BY source`,
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s mappings: %w", kind, err)
	}
	defer rows.Close()

	var out []core.StoredMapping
	for rows.Next() {
		m := core.StoredMapping{Key: core.MappingKey{Kind: kind}}
		var fields []byte
		if err := rows.Scan(&m.Key.Source, &fields, &m.Headers, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		if err := json.Unmarshal(fields, &m.Fields); err != nil {
			return nil, fmt.Errorf("decode mapping %s: %w", m.Key, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------------
// Run history
// ----------------------------------------------------------------------------

// Run statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunEntry is one row of the import history.
type RunEntry struct {
	ID          string        `json:"id"`
	Kind        core.Kind     `json:"kind"`
	Source      string        `json:"source"`
	Status      string        `json:"status"`
	TotalRows   int           `json:"totalRows"`
	Added       int           `json:"added"`
	Updated     int           `json:"updated"`
	Skipped     int           `json:"skipped"`
	Filtered    int           `json:"filtered"`
	Failed      int           `json:"failed"`
	WriteFailed int           `json:"writeFailed"`
	Degraded    int           `json:"degraded"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// RecordRun appends a finished run to the history.
func (s *Store) RecordRun(ctx context.Context, res *core.ImportResult, runErr error) error {
	status, msg := RunCompleted, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO import_runs (id, kind, source, status, total_rows, added, updated, skipped,
			filtered, failed, write_failed, degraded, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		res.RunID, string(res.Kind), res.Source, status, res.TotalRows, res.Added, res.Updated,
		res.Skipped, res.Filtered, res.Failed, res.WriteFailed, res.Degraded,
		res.Duration.Milliseconds(), msg,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", res.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs of kind, newest first.
func (s *Store) ListRuns(ctx context.Context, kind core.Kind, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, kind, source, status, total_rows, added, updated, skipped, filtered,
			failed, write_failed, degraded, duration_ms, error, created_at
		FROM import_runs WHERE kind = $1
		ORDER BY created_at DESC LIMIT $2`,
		string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s runs: %w", kind, err)
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var (
			e          RunEntry
			kindText   string
			durationMs int64
		)
		err := rows.Scan(&e.ID, &kindText, &e.Source, &e.Status, &e.TotalRows, &e.Added,
			&e.Updated, &e.Skipped, &e.Filtered, &e.Failed, &e.WriteFailed, &e.Degraded,
			&durationMs, &e.Error, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Kind = core.Kind(kindText)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
