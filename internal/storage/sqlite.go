package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
}

type SQLite struct {
	cfg SQLiteConfig
	db  *sql.DB
}

func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: mkdir data dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?cache=shared&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		cfg.Path,
		cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{cfg: cfg, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	ddl := `CREATE TABLE IF NOT EXISTS forwards (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		target_chat      TEXT NOT NULL,
		source_chat      TEXT NOT NULL,
		message_id       INTEGER NOT NULL,
		fingerprint      TEXT NOT NULL,
		category         TEXT NOT NULL,
		forwarded_at_unix INTEGER NOT NULL,
		UNIQUE(target_chat, fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_forwards_at ON forwards(forwarded_at_unix);`

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *SQLite) SaveForward(ctx context.Context, f Forward) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("sqlite: db is nil")
	}
	if f.TargetChat == "" || f.Fingerprint == "" {
		return false, errors.New("sqlite: invalid forward (target_chat/fingerprint required)")
	}

	at := f.ForwardedAt
	if at.IsZero() {
		at = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO forwards
			(target_chat, source_chat, message_id, fingerprint, category, forwarded_at_unix)
		VALUES (?, ?, ?, ?, ?, ?);
	`, f.TargetChat, f.SourceChat, f.MessageID, f.Fingerprint, f.Category, at.UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("sqlite insert forward: %w", err)
	}

	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

func (s *SQLite) Prune(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite: db is nil")
	}
	if olderThan <= 0 {
		return nil
	}

	cutoff := time.Now().UTC().Add(-olderThan).Unix()
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM forwards WHERE forwarded_at_unix < ?;
	`, cutoff); err != nil {
		return fmt.Errorf("sqlite prune forwards: %w", err)
	}
	return nil
}
