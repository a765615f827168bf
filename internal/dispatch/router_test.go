package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/faringet/telegram-pan-forwarder/internal/classify"
	"github.com/faringet/telegram-pan-forwarder/internal/storage"
	"github.com/faringet/telegram-pan-forwarder/internal/transport"
)

type sentMsg struct {
	Chat  string
	Text  string
	Media *transport.MediaRef
}

type fakeTransport struct {
	transport.Transport
	mu   sync.Mutex
	sent []sentMsg
}

func (f *fakeTransport) Send(ctx context.Context, chat, text string, ref *transport.MediaRef) (transport.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{Chat: chat, Text: text, Media: ref})
	return transport.SentMessage{ID: len(f.sent)}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	forwards []storage.Forward
}

func (f *fakeStore) SaveForward(ctx context.Context, fw storage.Forward) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, fw)
	return true, nil
}
func (f *fakeStore) Prune(ctx context.Context, olderThan time.Duration) error { return nil }
func (f *fakeStore) Close() error                                             { return nil }

func TestRouteFanOut(t *testing.T) {
	r := New(Config{
		Rules: []Rule{
			{Include: []string{"国产剧"}, Target: "@cn"},
			{Include: []string{"夸克", "pan.quark.cn"}, Target: "@quark"},
			{Include: []string{"电影"}, Exclude: []string{"预告"}, Target: "@movies"},
		},
		DefaultTarget: "@default",
	}, nil, nil, nil)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "two rules match, both destinations",
			text: "国产剧 pan.quark.cn/s/abc",
			want: []string{"@cn", "@quark"},
		},
		{
			name: "single match",
			text: "国产剧 新剧",
			want: []string{"@cn"},
		},
		{
			name: "no rule matches falls to default",
			text: "纪录片 https://pan.baidu.com/s/x",
			want: []string{"@default"},
		},
		{
			name: "exclude blocks an otherwise matching rule",
			text: "电影 预告",
			want: []string{"@default"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Route(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Route() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRouteNoRulesConfigured(t *testing.T) {
	r := New(Config{DefaultTarget: "@default"}, nil, nil, nil)
	if diff := cmp.Diff([]string{"@default"}, r.Route("anything")); diff != "" {
		t.Errorf("Route() mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchSendsToAllMatches(t *testing.T) {
	tr := &fakeTransport{}
	st := &fakeStore{}
	r := New(Config{
		Rules: []Rule{
			{Include: []string{"国产剧"}, Target: "@cn"},
			{Include: []string{"pan.quark.cn"}, Target: "@quark"},
		},
		DefaultTarget: "@default",
	}, tr, st, nil)

	sent, err := r.Dispatch(context.Background(), Candidate{
		Source:      "@src",
		MessageID:   5,
		Text:        "国产剧 https://pan.quark.cn/s/abc",
		Fingerprint: "https://pan.quark.cn/s/abc",
		Category:    classify.CategoryQuark,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}

	var chats []string
	for _, s := range tr.sent {
		chats = append(chats, s.Chat)
	}
	if diff := cmp.Diff([]string{"@cn", "@quark"}, chats); diff != "" {
		t.Errorf("destinations mismatch (-want +got):\n%s", diff)
	}
	if len(st.forwards) != 2 {
		t.Errorf("archived forwards = %d, want 2", len(st.forwards))
	}
}

func TestDispatchSafetyFilterSuppresses(t *testing.T) {
	tr := &fakeTransport{}
	r := New(Config{DefaultTarget: "@default"}, tr, nil, nil)

	sent, err := r.Dispatch(context.Background(), Candidate{
		Source:      "@src",
		Text:        "国产剧 更新了，链接见评论",
		Fingerprint: "https://t.me/leaked",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sent != 0 || len(tr.sent) != 0 {
		t.Errorf("message without storage link was sent: %+v", tr.sent)
	}
}

func TestDispatchRewritesBeforeFilter(t *testing.T) {
	// The text has no storage link until the hyperlink rewrite injects
	// one; the safety filter must run on the rewritten text.
	tr := &fakeTransport{}
	r := New(Config{
		DefaultTarget: "@default",
		Rewrite:       map[classify.Category][]string{classify.CategoryQuark: {"点击获取"}},
	}, tr, nil, nil)

	sent, err := r.Dispatch(context.Background(), Candidate{
		Text:        "国产剧 点击获取",
		Links:       []string{"https://pan.quark.cn/s/abc"},
		Fingerprint: "https://pan.quark.cn/s/abc",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if got, want := tr.sent[0].Text, "国产剧 https://pan.quark.cn/s/abc"; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestDispatchAppliesReplacements(t *testing.T) {
	tr := &fakeTransport{}
	r := New(Config{
		DefaultTarget: "@default",
		Replacements:  map[string][]string{"@my_channel": {"@their_channel"}},
	}, tr, nil, nil)

	_, err := r.Dispatch(context.Background(), Candidate{
		Text:        "来自 @their_channel https://pan.baidu.com/s/x",
		Fingerprint: "https://pan.baidu.com/s/x",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got, want := tr.sent[0].Text, "来自 @my_channel https://pan.baidu.com/s/x"; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestDispatchMediaGoesToDefault(t *testing.T) {
	tr := &fakeTransport{}
	r := New(Config{
		Rules:         []Rule{{Include: []string{"国产剧"}, Target: "@cn"}},
		DefaultTarget: "@default",
	}, tr, nil, nil)

	ref := &transport.MediaRef{Chat: "@src", MessageID: 3}
	sent, err := r.Dispatch(context.Background(), Candidate{
		Source:      "@src",
		MessageID:   3,
		Text:        "国产剧 合集",
		Fingerprint: "size:1024",
		Media:       ref,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if tr.sent[0].Chat != "@default" {
		t.Errorf("media sent to %q, want @default", tr.sent[0].Chat)
	}
	if tr.sent[0].Media != ref {
		t.Error("media ref not passed through")
	}
}
