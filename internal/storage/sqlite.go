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

	"bigben/pkg/logx"
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
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
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

func (s *sqliteStore) SaveSettings(ctx context.Context, set Settings) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if set.SavedAt.IsZero() {
		set.SavedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(id, mode, division, quarter_ms, saved_at) VALUES(1,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   mode=excluded.mode, division=excluded.division,
		   quarter_ms=excluded.quarter_ms, saved_at=excluded.saved_at`,
		set.Mode, set.Division, set.Quarter.Milliseconds(), set.SavedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadSettings(ctx context.Context) (Settings, bool, error) {
	if s == nil || s.db == nil {
		return Settings{}, false, ErrDisabled
	}
	var (
		set     Settings
		quarter int64
		savedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT mode, division, quarter_ms, saved_at FROM settings WHERE id = 1`,
	).Scan(&set.Mode, &set.Division, &quarter, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, err
	}
	set.Quarter = time.Duration(quarter) * time.Millisecond
	if savedAt != "" {
		if ts, perr := time.Parse(time.RFC3339Nano, savedAt); perr == nil {
			set.SavedAt = ts
		}
	}
	return set, true, nil
}
