// Package ledger keeps the daily dedup state shared by all pollers: link
// and media-size fingerprints seen today, the redirect-bot link cache and
// the per-destination counter message ids. The state is loaded once per
// run and flushed once at the end as a single JSON snapshot.
package ledger

import (
	"sync"
	"time"
)

// TZ is the fixed source-local timezone used for all day-boundary checks.
var TZ = time.FixedZone("UTC+8", 8*60*60)

// Day formats t as a calendar day in the source-local timezone.
func Day(t time.Time) string {
	return t.In(TZ).Format("2006-01-02")
}

// Ledger is the in-memory working state for one run. The fingerprint sets
// are shared by concurrently running pollers; every check-then-record goes
// through one mutex so two sources can never both win the same fingerprint.
type Ledger struct {
	mu sync.Mutex

	date string

	links   []string // insertion order, for most-recent-N truncation
	linkSet map[string]struct{}
	sizes   []int64
	sizeSet map[int64]struct{}

	botLinks      map[string]string
	counterMsgIDs map[string]int
	todayCount    int
}

// Empty returns a fresh ledger for the given moment. It is the explicit
// fallback for a missing or corrupt snapshot file.
func Empty(now time.Time) *Ledger {
	return &Ledger{
		date:          Day(now),
		linkSet:       map[string]struct{}{},
		sizeSet:       map[int64]struct{}{},
		botLinks:      map[string]string{},
		counterMsgIDs: map[string]int{},
	}
}

// RecordLink atomically tests-and-inserts a link fingerprint. It reports
// whether the link was inserted; false means a duplicate.
func (l *Ledger) RecordLink(link string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.linkSet[link]; ok {
		return false
	}
	l.linkSet[link] = struct{}{}
	l.links = append(l.links, link)
	return true
}

// RecordSize atomically tests-and-inserts a media byte-size fingerprint.
func (l *Ledger) RecordSize(size int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sizeSet[size]; ok {
		return false
	}
	l.sizeSet[size] = struct{}{}
	l.sizes = append(l.sizes, size)
	return true
}

// HasLink reports whether the link fingerprint is already known.
func (l *Ledger) HasLink(link string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.linkSet[link]
	return ok
}

// HasSize reports whether the size fingerprint is already known.
func (l *Ledger) HasSize(size int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sizeSet[size]
	return ok
}

// Links returns a copy of the link set in insertion order.
func (l *Ledger) Links() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.links))
	copy(out, l.links)
	return out
}

// ResolveRedirect looks up a previously resolved redirect parameter.
func (l *Ledger) ResolveRedirect(param string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	url, ok := l.botLinks[param]
	return url, ok
}

// CacheRedirect stores a resolved redirect target. Entries are never
// evicted, not even across day boundaries.
func (l *Ledger) CacheRedirect(param, url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.botLinks[param] = url
}

// CounterMessageIDs returns a copy of the destination -> pinned counter
// message id mapping from the previous run.
func (l *Ledger) CounterMessageIDs() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.counterMsgIDs))
	for k, v := range l.counterMsgIDs {
		out[k] = v
	}
	return out
}

// SetCounterMessageIDs replaces the counter message id mapping with this
// run's freshly pinned messages.
func (l *Ledger) SetCounterMessageIDs(m map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counterMsgIDs = make(map[string]int, len(m))
	for k, v := range m {
		l.counterMsgIDs[k] = v
	}
}

// TodayCount returns the number of messages forwarded since the last
// day-boundary reset.
func (l *Ledger) TodayCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.todayCount
}

// AddTodayCount adds this run's forwards to the daily counter and returns
// the new total.
func (l *Ledger) AddTodayCount(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.todayCount += n
	return l.todayCount
}

// truncate keeps only the cap most recently added fingerprints of each
// kind, bounding snapshot growth.
func (l *Ledger) truncate(cap int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cap < 0 {
		cap = 0
	}
	if len(l.links) > cap {
		dropped := l.links[:len(l.links)-cap]
		for _, link := range dropped {
			delete(l.linkSet, link)
		}
		l.links = append([]string(nil), l.links[len(l.links)-cap:]...)
	}
	if len(l.sizes) > cap {
		dropped := l.sizes[:len(l.sizes)-cap]
		for _, s := range dropped {
			delete(l.sizeSet, s)
		}
		l.sizes = append([]int64(nil), l.sizes[len(l.sizes)-cap:]...)
	}
}
