package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresConfig struct {
	DSN string
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.pool == nil {
		return nil
	}
	p.pool.Close()
	return nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS forwards (
		id            BIGSERIAL PRIMARY KEY,
		target_chat   TEXT NOT NULL,
		source_chat   TEXT NOT NULL,
		message_id    BIGINT NOT NULL,
		fingerprint   TEXT NOT NULL,
		category      TEXT NOT NULL,
		forwarded_at  TIMESTAMPTZ NOT NULL,
		UNIQUE(target_chat, fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_forwards_at ON forwards(forwarded_at);`

	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func (p *Postgres) SaveForward(ctx context.Context, f Forward) (bool, error) {
	if p == nil || p.pool == nil {
		return false, errors.New("postgres: pool is nil")
	}
	if f.TargetChat == "" || f.Fingerprint == "" {
		return false, errors.New("postgres: invalid forward (target_chat/fingerprint required)")
	}

	at := f.ForwardedAt
	if at.IsZero() {
		at = time.Now()
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO forwards
			(target_chat, source_chat, message_id, fingerprint, category, forwarded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (target_chat, fingerprint) DO NOTHING;
	`, f.TargetChat, f.SourceChat, f.MessageID, f.Fingerprint, f.Category, at.UTC())
	if err != nil {
		return false, fmt.Errorf("postgres insert forward: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) Prune(ctx context.Context, olderThan time.Duration) error {
	if p == nil || p.pool == nil {
		return errors.New("postgres: pool is nil")
	}
	if olderThan <= 0 {
		return nil
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	if _, err := p.pool.Exec(ctx, `
		DELETE FROM forwards WHERE forwarded_at < $1;
	`, cutoff); err != nil {
		return fmt.Errorf("postgres prune forwards: %w", err)
	}
	return nil
}
