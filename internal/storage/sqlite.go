package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fandomassenger/internal/dispatch"
	logx "fandomassenger/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer: the engine is sequential anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Delivered(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM deliveries WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkDelivered(ctx context.Context, d dispatch.Delivery) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if d.Key == "" {
		return nil
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(key, run_id, wiki, target, recipient, subject, at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET run_id=excluded.run_id, at=excluded.at`,
		d.Key, nullStr(d.RunID), d.Wiki, string(d.Target), d.Recipient, nullStr(d.Subject),
		d.At.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RecordRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, wiki, target, dry_run, started_at, finished_at, total, success, skipped, failed, err, results)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Wiki, nullStr(r.Target), boolInt(r.DryRun),
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
		r.Total, r.Success, r.Skipped, r.Failed, nullStr(r.Error), nullStr(r.ResultsJSON),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, wiki, COALESCE(target, ''), dry_run, started_at, finished_at, total, success, skipped, failed, COALESCE(err, ''), COALESCE(results, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r             RunRecord
			dry           int
			start, finish string
		)
		if err := rows.Scan(&r.RunID, &r.Wiki, &r.Target, &dry, &start, &finish,
			&r.Total, &r.Success, &r.Skipped, &r.Failed, &r.Error, &r.ResultsJSON); err != nil {
			return nil, err
		}
		r.DryRun = dry != 0
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, start)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finish)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
