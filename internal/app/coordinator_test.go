package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/faringet/telegram-pan-forwarder/internal/ledger"
	"github.com/faringet/telegram-pan-forwarder/internal/poller"
	"github.com/faringet/telegram-pan-forwarder/internal/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	history map[string][]transport.Message // newest first
	sent    []sentRecord
	pinned  []int
	deleted map[string][][]int

	failResolve map[string]error
	nextID      int
}

type sentRecord struct {
	Chat string
	Text string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		history: map[string][]transport.Message{},
		deleted: map[string][][]int{},
	}
}

func (f *fakeTransport) Resolve(ctx context.Context, chat string) error {
	if err := f.failResolve[chat]; err != nil {
		return err
	}
	return nil
}

func (f *fakeTransport) Join(ctx context.Context, chat string) error { return nil }

func (f *fakeTransport) History(ctx context.Context, chat string, limit int) ([]transport.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.history[chat]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeTransport) Replies(ctx context.Context, chat string, messageID, limit int) ([]transport.Message, error) {
	return nil, nil
}

func (f *fakeTransport) Send(ctx context.Context, chat, text string, ref *transport.MediaRef) (transport.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentRecord{Chat: chat, Text: text})
	f.nextID++
	return transport.SentMessage{ID: 1000 + f.nextID}, nil
}

func (f *fakeTransport) Pin(ctx context.Context, chat string, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, messageID)
	return nil
}

func (f *fakeTransport) Delete(ctx context.Context, chat string, messageIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[chat] = append(f.deleted[chat], messageIDs)
	return nil
}

func (f *fakeTransport) DownloadMedia(ctx context.Context, chat string, messageID int) ([]byte, error) {
	return nil, nil
}

func newTestCoordinator(t *testing.T, cfg CoordinatorConfig, tr transport.Transport) (*Coordinator, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.json")
	file := ledger.NewFile(path, cfg.CheckNum, nil)
	return NewCoordinator(cfg, tr, file, nil, nil), path
}

func TestRunOnceForwardsAndCounts(t *testing.T) {
	tr := newFakeTransport()
	tr.history["@src"] = []transport.Message{
		{ID: 2, Text: "国产剧 乙 https://pan.quark.cn/s/two"},
		{ID: 1, Text: "国产剧 甲 https://pan.quark.cn/s/one"},
	}

	c, path := newTestCoordinator(t, CoordinatorConfig{
		Sources:       []poller.Source{{Chat: "@src", Limit: 50}},
		DefaultTarget: "@pan",
		Include:       []string{"国产剧"},
		CheckNum:      100,
		ResolveWait:   time.Millisecond,
	}, tr)

	sum, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.Forwarded != 2 {
		t.Errorf("forwarded = %d, want 2", sum.Forwarded)
	}
	if sum.TodayCount != 102 { // floor 100 from an empty ledger, plus this run
		t.Errorf("today count = %d, want 102", sum.TodayCount)
	}

	// Two forwards plus the counter message, all to the default target.
	var wantTexts []string
	for _, s := range tr.sent {
		if s.Chat != "@pan" {
			t.Errorf("sent to %q, want @pan", s.Chat)
		}
		wantTexts = append(wantTexts, s.Text)
	}
	if len(wantTexts) != 3 {
		t.Fatalf("sends = %d, want 3", len(wantTexts))
	}
	if got, want := wantTexts[2], "**今日共更新【102】条资源**"; got != want {
		t.Errorf("counter text = %q, want %q", got, want)
	}
	if len(tr.pinned) != 1 {
		t.Errorf("pinned = %v, want exactly one counter pin", tr.pinned)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("ledger not persisted: %v", err)
	}
}

func TestRunOnceSkipsUnreachableSources(t *testing.T) {
	tr := newFakeTransport()
	tr.failResolve = map[string]error{"@gone": errors.New("USERNAME_NOT_OCCUPIED")}
	tr.history["@ok"] = []transport.Message{{ID: 1, Text: "国产剧 https://pan.quark.cn/s/one"}}

	c, _ := newTestCoordinator(t, CoordinatorConfig{
		Sources: []poller.Source{
			{Chat: "@gone", Limit: 10},
			{Chat: "@ok", Limit: 10},
		},
		DefaultTarget: "@pan",
		Include:       []string{"国产剧"},
		CheckNum:      1,
		ResolveWait:   time.Millisecond,
	}, tr)

	sum, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if diff := cmp.Diff(Summary{SourcesPolled: 1, SourcesSkipped: 1, Forwarded: 1, TodayCount: 2}, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestRunOnceAllSourcesUnreachable(t *testing.T) {
	tr := newFakeTransport()
	tr.failResolve = map[string]error{"@gone": errors.New("unreachable")}

	c, path := newTestCoordinator(t, CoordinatorConfig{
		Sources:       []poller.Source{{Chat: "@gone", Limit: 10}},
		DefaultTarget: "@pan",
		CheckNum:      10,
	}, tr)

	sum, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.SourcesPolled != 0 || sum.Forwarded != 0 {
		t.Errorf("unexpected work done: %+v", sum)
	}
	if len(tr.sent) != 0 {
		t.Errorf("counter posted with no reachable sources: %+v", tr.sent)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("ledger persisted even though the run did nothing")
	}
}

func TestRunOnceSeedsFromDestinationHistory(t *testing.T) {
	// The destination already shows the link; the source must not re-forward it.
	tr := newFakeTransport()
	tr.history["@pan"] = []transport.Message{{ID: 500, Text: "国产剧 https://pan.quark.cn/s/seen"}}
	tr.history["@src"] = []transport.Message{{ID: 1, Text: "国产剧 https://pan.quark.cn/s/seen"}}

	c, _ := newTestCoordinator(t, CoordinatorConfig{
		Sources:       []poller.Source{{Chat: "@src", Limit: 10}},
		DefaultTarget: "@pan",
		Include:       []string{"国产剧"},
		CheckNum:      50,
		ResolveWait:   time.Millisecond,
	}, tr)

	sum, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.Forwarded != 0 {
		t.Errorf("forwarded = %d, want 0 for an already visible link", sum.Forwarded)
	}
}

func TestSweepKeepsNewestCopy(t *testing.T) {
	// Destination history carries the same link three times. Only the most
	// recent copy may survive; the older two go in one delete batch.
	tr := newFakeTransport()
	tr.history["@pan"] = []transport.Message{
		{ID: 30, Text: "国产剧 https://pan.quark.cn/s/dup"},
		{ID: 20, Text: "重发 https://pan.quark.cn/s/dup"},
		{ID: 10, Text: "首发 https://pan.quark.cn/s/dup"},
	}
	tr.history["@src"] = nil

	c, _ := newTestCoordinator(t, CoordinatorConfig{
		Sources:       []poller.Source{{Chat: "@src", Limit: 10}},
		DefaultTarget: "@pan",
		CheckNum:      100,
	}, tr)

	sum, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sum.SweptDeleted != 2 {
		t.Errorf("swept = %d, want 2", sum.SweptDeleted)
	}
	if diff := cmp.Diff([][]int{{20, 10}}, tr.deleted["@pan"]); diff != "" {
		t.Errorf("deleted batches mismatch (-want +got):\n%s", diff)
	}
}

func TestCounterReplacesPreviousPin(t *testing.T) {
	tr := newFakeTransport()
	tr.history["@src"] = nil

	path := filepath.Join(t.TempDir(), "history.json")
	file := ledger.NewFile(path, 5, nil)

	// First run leaves a counter message behind.
	c := NewCoordinator(CoordinatorConfig{
		Sources:       []poller.Source{{Chat: "@src", Limit: 10}},
		DefaultTarget: "@pan",
		CheckNum:      5,
	}, tr, file, nil, nil)
	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	firstCounterID := 1000 + tr.nextID

	// Second run must delete it before posting the replacement.
	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}

	found := false
	for _, batch := range tr.deleted["@pan"] {
		for _, id := range batch {
			if id == firstCounterID {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("previous counter %d was not deleted; deletes: %v", firstCounterID, tr.deleted["@pan"])
	}
}
