// Package dispatch routes candidate messages to destination chats and
// performs the actual sends.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/faringet/telegram-pan-forwarder/internal/classify"
	"github.com/faringet/telegram-pan-forwarder/internal/storage"
	"github.com/faringet/telegram-pan-forwarder/internal/transport"
)

// Candidate is one message selected for possible forwarding. It is owned
// by the poller that produced it until handed to the router and is never
// mutated concurrently.
type Candidate struct {
	Source    string
	MessageID int
	Text      string

	// Links are the resolved hyperlinks (redirect targets plus
	// pattern-matched URLs) used for hyperlink rewriting.
	Links []string

	// Fingerprint is the dedup key that admitted this candidate: the link
	// string, or "size:<n>" for media-lane candidates.
	Fingerprint string
	Category    classify.Category

	// Media references the original attachment to copy, nil for text.
	Media *transport.MediaRef
}

// Rule routes messages matching its include/exclude keyword sets to a
// destination chat. An empty include list means no include constraint.
type Rule struct {
	Include []string
	Exclude []string
	Target  string
}

type Config struct {
	Rules         []Rule
	DefaultTarget string
	// Rewrite maps categories to the keyword substrings replaced by a
	// resolved link of that category.
	Rewrite map[classify.Category][]string
	// Replacements substitutes source words (channel watermarks and the
	// like) with target words just before sending.
	Replacements map[string][]string
}

// Router decides which destinations receive a candidate and sends it.
type Router struct {
	cfg   Config
	tr    transport.Transport
	store storage.Store // optional forward archive
	log   *slog.Logger
}

func New(cfg Config, tr transport.Transport, store storage.Store, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		cfg:   cfg,
		tr:    tr,
		store: store,
		log:   log.With(slog.String("component", "dispatch")),
	}
}

// Route returns every destination whose rule matches the text, in rule
// order. When no rule matches (or none are configured) the single default
// destination is returned.
func (r *Router) Route(text string) []string {
	var targets []string
	for _, rule := range r.cfg.Rules {
		if len(rule.Include) > 0 && !classify.ContainsAny(text, rule.Include) {
			continue
		}
		if !classify.ExcludesAll(text, rule.Exclude) {
			continue
		}
		targets = append(targets, rule.Target)
	}
	if len(targets) == 0 {
		targets = append(targets, r.cfg.DefaultTarget)
	}
	return targets
}

// Dispatch rewrites the candidate's text and sends it to every routed
// destination. It returns the number of destinations actually sent to;
// zero with a nil error means the candidate was suppressed.
func (r *Router) Dispatch(ctx context.Context, c Candidate) (int, error) {
	text := classify.RewriteHyperlinks(c.Text, c.Links, r.cfg.Rewrite)

	// Media candidates carry their dedup weight in the attachment, not the
	// text; they always go to the default destination.
	targets := []string{r.cfg.DefaultTarget}
	if c.Media == nil {
		// Final safety filter: whatever the rules matched, a text message
		// without any storage-provider keyword is never forwarded.
		if !classify.ContainsAny(text, classify.StorageKeywords) {
			r.log.Info("candidate suppressed, no storage link in text",
				slog.String("source", c.Source),
				slog.Int("message_id", c.MessageID),
			)
			return 0, nil
		}
		targets = r.Route(text)
	}

	text = classify.ReplaceTargets(text, r.cfg.Replacements)

	sent := 0
	for _, target := range targets {
		if _, err := r.tr.Send(ctx, target, text, c.Media); err != nil {
			return sent, fmt.Errorf("send to %s: %w", target, err)
		}
		sent++
		r.archive(ctx, target, c)
	}
	return sent, nil
}

func (r *Router) archive(ctx context.Context, target string, c Candidate) {
	if r.store == nil {
		return
	}
	_, err := r.store.SaveForward(ctx, storage.Forward{
		TargetChat:  target,
		SourceChat:  c.Source,
		MessageID:   c.MessageID,
		Fingerprint: c.Fingerprint,
		Category:    string(c.Category),
		ForwardedAt: time.Now().UTC(),
	})
	if err != nil {
		r.log.Warn("archive write failed",
			slog.String("target", target),
			slog.String("fingerprint", c.Fingerprint),
			slog.Any("err", err),
		)
	}
}
