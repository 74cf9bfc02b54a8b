package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/townmap/internal/db"
	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/snapshot"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
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
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sync_cycles (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	manual       BOOLEAN NOT NULL DEFAULT false,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	accepted     INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	fingerprint  TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS town_snapshot (
	id          SMALLINT PRIMARY KEY CHECK (id = 1),
	fingerprint TEXT NOT NULL,
	towns       JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_cycles_started_at ON sync_cycles(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_cycles_status ON sync_cycles(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RecordCycle(ctx context.Context, e model.CycleEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_cycles (id, status, manual, started_at, completed_at, accepted, skipped, fingerprint, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Status), e.Manual, e.StartedAt, e.CompletedAt,
		e.Accepted, e.Skipped, e.Fingerprint, e.Error,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert cycle %s", e.ID)
	}
	return nil
}

func (s *PostgresStore) ListCycles(ctx context.Context, filter CycleFilter) ([]model.CycleEntry, error) {
	query := `SELECT id, status, manual, started_at, completed_at, accepted, skipped, fingerprint, error FROM sync_cycles`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf(`started_at >= $%d`, len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY started_at DESC`
	if limit := limitOrDefault(filter.Limit); limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cycles")
	}
	defer rows.Close()

	var out []model.CycleEntry
	for rows.Next() {
		e, err := scanCycle(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan cycle")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate cycles")
	}
	return out, nil
}

func (s *PostgresStore) PruneCycles(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_cycles WHERE started_at < $1`, before)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune cycles")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, v *snapshot.Version) error {
	towns, err := json.Marshal(v.Towns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal towns")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO town_snapshot (id, fingerprint, towns, updated_at) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET fingerprint = EXCLUDED.fingerprint, towns = EXCLUDED.towns, updated_at = EXCLUDED.updated_at`,
		string(v.Fingerprint), towns, v.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: save snapshot")
	}
	return nil
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*snapshot.Version, error) {
	var (
		fp    string
		towns []byte
		v     snapshot.Version
	)
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint, towns, updated_at FROM town_snapshot WHERE id = 1`,
	).Scan(&fp, &towns, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load snapshot")
	}
	if err := json.Unmarshal(towns, &v.Towns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal towns")
	}
	v.Fingerprint = snapshot.Fingerprint(fp)
	return &v, nil
}
