package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/profile-resolver/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id            TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	partition_key TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	resolver      TEXT,
	source_url    TEXT,
	identity_card TEXT,
	narrative     TEXT,
	method        TEXT,
	run_id        TEXT,
	resolved_at   DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (symbol, partition_key)
);

CREATE INDEX IF NOT EXISTS idx_records_resolver ON records(resolver);
CREATE INDEX IF NOT EXISTS idx_records_symbol ON records(symbol);
`

const sqliteRecordColumns = `id, symbol, partition_key, name, resolver, source_url, identity_card, narrative, method, run_id, resolved_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Unresolved(ctx context.Context, limit int) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM records WHERE resolver IS NULL ORDER BY symbol, partition_key LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query unresolved")
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Resolve(ctx context.Context, id string, out model.Outcome) error {
	cardJSON, err := json.Marshal(out.IdentityCard)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal identity card")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET resolver = ?, source_url = ?, identity_card = ?, narrative = ?, method = ?, run_id = ?, resolved_at = ?
		 WHERE id = ? AND resolver IS NULL`,
		string(out.Resolver), out.SourceURL, string(cardJSON), out.Narrative, out.Meta.Method, out.Meta.RunID, out.ResolvedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve record %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrAlreadyResolved, "sqlite: record %s", id)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, symbol string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM records WHERE symbol = ? ORDER BY partition_key`,
		symbol,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", symbol)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteStore) Reset(ctx context.Context, symbol string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET resolver = NULL, source_url = NULL, identity_card = NULL, narrative = NULL, method = NULL, run_id = NULL, resolved_at = NULL
		 WHERE symbol = ? AND resolver IS NOT NULL`,
		symbol,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reset %s", symbol)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(resolver, ''), COUNT(*) FROM records GROUP BY resolver`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	defer rows.Close()

	st := newStats()
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		st.add(model.ResolverTag(tag), n)
	}
	return st, eris.Wrap(rows.Err(), "sqlite: iterate stats")
}

func (s *SQLiteStore) Upsert(ctx context.Context, recs []model.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
	for _, r := range recs {
		if err := validateUpsert(r); err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO records (id, symbol, partition_key, name, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (symbol, partition_key) DO NOTHING`,
			uuid.New().String(), r.Symbol, r.Partition, r.Name, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %s", r.Symbol)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		if n > 0 {
			inserted++
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET name = ? WHERE symbol = ? AND partition_key = ? AND name <> ?`,
			r.Name, r.Symbol, r.Partition, r.Name,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: refresh name %s", r.Symbol)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return inserted, nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanRecords drains rows shaped like sqliteRecordColumns.
func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	var out []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate records")
	}
	return out, nil
}

func scanRecord(row scannable) (*model.Record, error) {
	var (
		r                                            model.Record
		resolver, sourceURL, card, narrative, method sql.NullString
		runID                                        sql.NullString
		resolvedAt                                   sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Symbol, &r.Partition, &r.Name,
		&resolver, &sourceURL, &card, &narrative, &method, &runID, &resolvedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}
	if !resolver.Valid || resolver.String == "" {
		return &r, nil
	}

	out := &model.Outcome{
		Resolver:   model.ResolverTag(resolver.String),
		SourceURL:  sourceURL.String,
		Narrative:  narrative.String,
		ResolvedAt: resolvedAt.Time,
		Meta: model.OutcomeMeta{
			Method: method.String,
			RunID:  runID.String,
		},
	}
	if card.Valid && card.String != "" {
		if err := json.Unmarshal([]byte(card.String), &out.IdentityCard); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal identity card")
		}
	}
	r.Resolution = out
	return &r, nil
}
