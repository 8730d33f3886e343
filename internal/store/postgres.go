package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-resolver/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	symbol        TEXT NOT NULL,
	partition_key TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	resolver      TEXT,
	source_url    TEXT,
	identity_card JSONB,
	narrative     TEXT,
	method        TEXT,
	run_id        TEXT,
	resolved_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (symbol, partition_key)
);

CREATE INDEX IF NOT EXISTS idx_records_unresolved ON records(symbol, partition_key) WHERE resolver IS NULL;
CREATE INDEX IF NOT EXISTS idx_records_resolver ON records(resolver);
`

// postgresRecordColumns folds NULLs in SQL so rows scan into plain Go types.
const postgresRecordColumns = `id, symbol, partition_key, name, COALESCE(resolver, ''), COALESCE(source_url, ''),
	COALESCE(identity_card::text, ''), COALESCE(narrative, ''), COALESCE(method, ''), COALESCE(run_id, ''),
	COALESCE(resolved_at, to_timestamp(0))`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Unresolved(ctx context.Context, limit int) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresRecordColumns+` FROM records WHERE resolver IS NULL ORDER BY symbol, partition_key LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query unresolved")
	}
	defer rows.Close()
	return scanPostgresRecords(rows)
}

func (s *PostgresStore) Resolve(ctx context.Context, id string, out model.Outcome) error {
	cardJSON, err := json.Marshal(out.IdentityCard)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal identity card")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET resolver = $1, source_url = $2, identity_card = $3, narrative = $4, method = $5, run_id = $6, resolved_at = $7
		 WHERE id = $8 AND resolver IS NULL`,
		string(out.Resolver), out.SourceURL, cardJSON, out.Narrative, out.Meta.Method, out.Meta.RunID, out.ResolvedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrAlreadyResolved, "postgres: record %s", id)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, symbol string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresRecordColumns+` FROM records WHERE symbol = $1 ORDER BY partition_key`,
		symbol,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", symbol)
	}
	defer rows.Close()
	return scanPostgresRecords(rows)
}

func (s *PostgresStore) Reset(ctx context.Context, symbol string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET resolver = NULL, source_url = NULL, identity_card = NULL, narrative = NULL, method = NULL, run_id = NULL, resolved_at = NULL
		 WHERE symbol = $1 AND resolver IS NOT NULL`,
		symbol,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reset %s", symbol)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(resolver, ''), COUNT(*) FROM records GROUP BY resolver`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	defer rows.Close()

	st := newStats()
	for rows.Next() {
		var tag string
		var n int64
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		st.add(model.ResolverTag(tag), int(n))
	}
	return st, eris.Wrap(rows.Err(), "postgres: iterate stats")
}

func (s *PostgresStore) Upsert(ctx context.Context, recs []model.Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted := 0
	for _, r := range recs {
		if err := validateUpsert(r); err != nil {
			return 0, err
		}
		// xmax is zero only for freshly inserted tuples. An unchanged
		// conflicting row returns nothing.
		var fresh bool
		err := tx.QueryRow(ctx,
			`INSERT INTO records (id, symbol, partition_key, name) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (symbol, partition_key) DO UPDATE SET name = EXCLUDED.name
			 WHERE records.name IS DISTINCT FROM EXCLUDED.name
			 RETURNING (xmax = 0)`,
			uuid.New().String(), r.Symbol, r.Partition, r.Name,
		).Scan(&fresh)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return 0, eris.Wrapf(err, "postgres: upsert record %s", r.Symbol)
		case fresh:
			inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert")
	}
	return inserted, nil
}

func scanPostgresRecords(rows pgx.Rows) ([]model.Record, error) {
	var out []model.Record
	for rows.Next() {
		var r model.Record
		var resolver, sourceURL, card, narrative, method, run string
		var resolvedAt time.Time
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Partition, &r.Name,
			&resolver, &sourceURL, &card, &narrative, &method, &run, &resolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if resolver != "" {
			o := &model.Outcome{
				Resolver:   model.ResolverTag(resolver),
				SourceURL:  sourceURL,
				Narrative:  narrative,
				ResolvedAt: resolvedAt.UTC(),
				Meta:       model.OutcomeMeta{Method: method, RunID: run},
			}
			if card != "" {
				if err := json.Unmarshal([]byte(card), &o.IdentityCard); err != nil {
					return nil, eris.Wrap(err, "postgres: unmarshal identity card")
				}
			}
			r.Resolution = o
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate records")
	}
	return out, nil
}
