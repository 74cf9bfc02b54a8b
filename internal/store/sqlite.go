package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/snapshot"
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
CREATE TABLE IF NOT EXISTS sync_cycles (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	manual       INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME NOT NULL,
	accepted     INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	fingerprint  TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS town_snapshot (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	fingerprint TEXT NOT NULL,
	towns       TEXT NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_cycles_started_at ON sync_cycles(started_at);
CREATE INDEX IF NOT EXISTS idx_sync_cycles_status ON sync_cycles(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordCycle(ctx context.Context, e model.CycleEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_cycles (id, status, manual, started_at, completed_at, accepted, skipped, fingerprint, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Status), e.Manual, e.StartedAt.UTC(), e.CompletedAt.UTC(),
		e.Accepted, e.Skipped, e.Fingerprint, e.Error,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert cycle %s", e.ID)
	}
	return nil
}

func (s *SQLiteStore) ListCycles(ctx context.Context, filter CycleFilter) ([]model.CycleEntry, error) {
	query := `SELECT id, status, manual, started_at, completed_at, accepted, skipped, fingerprint, error FROM sync_cycles`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where = append(where, `started_at >= ?`)
		args = append(args, filter.Since.UTC())
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY started_at DESC`
	if limit := limitOrDefault(filter.Limit); limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cycles")
	}
	defer rows.Close()

	var out []model.CycleEntry
	for rows.Next() {
		e, err := scanCycle(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cycle")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate cycles")
}

func (s *SQLiteStore) PruneCycles(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_cycles WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune cycles")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: prune cycles rows affected")
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, v *snapshot.Version) error {
	towns, err := json.Marshal(v.Towns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal towns")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO town_snapshot (id, fingerprint, towns, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET fingerprint = excluded.fingerprint, towns = excluded.towns, updated_at = excluded.updated_at`,
		string(v.Fingerprint), string(towns), v.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: save snapshot")
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*snapshot.Version, error) {
	var (
		fp    string
		towns string
		v     snapshot.Version
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, towns, updated_at FROM town_snapshot WHERE id = 1`,
	).Scan(&fp, &towns, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load snapshot")
	}
	if err := json.Unmarshal([]byte(towns), &v.Towns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal towns")
	}
	v.Fingerprint = snapshot.Fingerprint(fp)
	return &v, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCycle(row scannable) (model.CycleEntry, error) {
	var (
		e      model.CycleEntry
		status string
	)
	err := row.Scan(&e.ID, &status, &e.Manual, &e.StartedAt, &e.CompletedAt,
		&e.Accepted, &e.Skipped, &e.Fingerprint, &e.Error)
	e.Status = model.SyncStatus(status)
	return e, err
}
