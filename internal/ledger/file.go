package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// snapshot is the persisted JSON shape of the ledger.
type snapshot struct {
	Date              string            `json:"date"`
	Links             []string          `json:"links"`
	Sizes             []int64           `json:"sizes"`
	BotLinks          map[string]string `json:"bot_links"`
	CounterMessageIDs map[string]int    `json:"counter_message_ids"`
	TodayCount        int               `json:"today_count"`
}

// File loads and persists ledger snapshots. Loading never fails hard: a
// missing or corrupt file yields an empty ledger. Persisting is
// best-effort; the caller decides whether a write failure matters.
type File struct {
	path  string
	floor int // today_count floor after a day-boundary reset
	log   *slog.Logger

	// Now is the clock used for day-boundary checks, overridable in tests.
	Now func() time.Time
}

func NewFile(path string, floor int, log *slog.Logger) *File {
	if log == nil {
		log = slog.Default()
	}
	return &File{
		path:  path,
		floor: floor,
		log:   log.With(slog.String("component", "ledger")),
		Now:   time.Now,
	}
}

// Load reads the snapshot and applies the day-boundary reset: when the
// stored date is not today the fingerprint sets are cleared and the daily
// counter drops to the configured floor. The redirect-bot cache survives.
func (f *File) Load() *Ledger {
	now := f.Now()
	l := Empty(now)
	l.todayCount = f.floor

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.log.Warn("ledger read failed, starting empty", slog.String("path", f.path), slog.Any("err", err))
		}
		return l
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		f.log.Warn("ledger snapshot corrupt, starting empty", slog.String("path", f.path), slog.Any("err", err))
		return l
	}

	for param, url := range snap.BotLinks {
		l.botLinks[param] = url
	}

	if snap.Date != Day(now) {
		f.log.Info("day boundary crossed, fingerprints reset",
			slog.String("stored", snap.Date),
			slog.String("today", Day(now)),
		)
		return l
	}

	for _, link := range snap.Links {
		l.RecordLink(link)
	}
	for _, size := range snap.Sizes {
		l.RecordSize(size)
	}
	for chat, id := range snap.CounterMessageIDs {
		l.counterMsgIDs[chat] = id
	}
	if snap.TodayCount > f.floor {
		l.todayCount = snap.TodayCount
	}
	return l
}

// Persist truncates the fingerprint sets to the most recent today_count
// entries and rewrites the snapshot atomically (temp file + rename), so a
// crash mid-write never corrupts the previous state.
func (f *File) Persist(l *Ledger) error {
	l.truncate(l.TodayCount())

	l.mu.Lock()
	snap := snapshot{
		Date:              l.date,
		Links:             append([]string(nil), l.links...),
		Sizes:             append([]int64(nil), l.sizes...),
		BotLinks:          make(map[string]string, len(l.botLinks)),
		CounterMessageIDs: make(map[string]int, len(l.counterMsgIDs)),
		TodayCount:        l.todayCount,
	}
	for k, v := range l.botLinks {
		snap.BotLinks[k] = v
	}
	for k, v := range l.counterMsgIDs {
		snap.CounterMessageIDs[k] = v
	}
	l.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ledger marshal: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("ledger temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("ledger write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("ledger close: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("ledger rename: %w", err)
	}
	return nil
}
