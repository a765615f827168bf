// Package storage archives every forwarded message so operators can audit
// what the pipeline delivered, independent of the daily ledger snapshot.
package storage

import (
	"context"
	"time"
)

// Forward is one delivered candidate.
type Forward struct {
	ID          int64
	TargetChat  string
	SourceChat  string
	MessageID   int
	Fingerprint string // link, or "size:<n>" for media
	Category    string
	ForwardedAt time.Time
}

// Store persists forwards. SaveForward is idempotent on
// (target_chat, fingerprint) and reports whether a row was inserted.
type Store interface {
	SaveForward(ctx context.Context, f Forward) (inserted bool, err error)
	Prune(ctx context.Context, olderThan time.Duration) error
	Close() error
}
