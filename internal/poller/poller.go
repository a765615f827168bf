// Package poller walks the recent history of one source chat, classifies
// each message into the media / text-link / reply-scan lanes and hands
// deduplicated candidates to the dispatch router.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/faringet/telegram-pan-forwarder/internal/classify"
	"github.com/faringet/telegram-pan-forwarder/internal/dispatch"
	"github.com/faringet/telegram-pan-forwarder/internal/ledger"
	"github.com/faringet/telegram-pan-forwarder/internal/transport"
)

// Source identifies a chat to poll and its history depth.
type Source struct {
	Chat  string
	Limit int
}

// Dispatcher receives candidates that survived dedup.
type Dispatcher interface {
	Dispatch(ctx context.Context, c dispatch.Candidate) (int, error)
}

type Config struct {
	Include []string
	Exclude []string

	OnlyToday    bool
	TryJoin      bool
	CheckReplies bool
	RepliesLimit int

	// MinPause/MaxPause bound the random delay inserted between messages
	// to stay under the transport's rate limits.
	MinPause time.Duration
	MaxPause time.Duration
}

type Poller struct {
	cfg      Config
	tr       transport.Transport
	led      *ledger.Ledger
	resolver *Resolver
	disp     Dispatcher
	log      *slog.Logger

	// Now is the clock used for the only-today filter, overridable in tests.
	Now func() time.Time
}

func New(cfg Config, tr transport.Transport, led *ledger.Ledger, resolver *Resolver, disp Dispatcher, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RepliesLimit <= 0 {
		cfg.RepliesLimit = 10
	}
	return &Poller{
		cfg:      cfg,
		tr:       tr,
		led:      led,
		resolver: resolver,
		disp:     disp,
		log:      log.With(slog.String("component", "poller")),
		Now:      time.Now,
	}
}

// Result summarizes one source's poll.
type Result struct {
	Scanned   int
	Forwarded int
}

// Poll processes up to src.Limit most recent messages of the source in
// chronological order. A history or reply fetch failure ends this source
// early and returns the partial result; other sources are unaffected.
func (p *Poller) Poll(ctx context.Context, src Source) (Result, error) {
	var res Result

	if p.cfg.TryJoin {
		if err := p.tr.Join(ctx, src.Chat); err != nil {
			p.log.Warn("join failed", slog.String("chat", src.Chat), slog.Any("err", err))
		}
	}

	msgs, err := p.tr.History(ctx, src.Chat, src.Limit)
	if err != nil {
		return res, fmt.Errorf("history %s: %w", src.Chat, err)
	}

	today := ledger.Day(p.Now())

	// History arrives newest first; dedup and sends must follow
	// chronological causality, so walk the batch oldest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		res.Scanned++

		if p.cfg.OnlyToday && ledger.Day(m.Date) != today {
			continue
		}

		if err := p.pause(ctx); err != nil {
			return res, err
		}

		forwarded, err := p.process(ctx, src, m)
		if err != nil {
			return res, err
		}
		res.Forwarded += forwarded
	}

	p.log.Info("source done",
		slog.String("chat", src.Chat),
		slog.Int("scanned", res.Scanned),
		slog.Int("forwarded", res.Forwarded),
	)
	return res, nil
}

// process routes one message through the three lanes in priority order.
func (p *Poller) process(ctx context.Context, src Source, m transport.Message) (int, error) {
	if ok, n, err := p.mediaLane(ctx, src, m); ok {
		return n, err
	}
	if ok, n, err := p.textLinkLane(ctx, src, m); ok {
		return n, err
	}
	if p.cfg.CheckReplies && m.Text != "" && classify.ExcludesAll(m.Text, p.cfg.Exclude) {
		return p.replyLane(ctx, src, m)
	}
	return 0, nil
}

// mediaLane handles video attachments, fingerprinted by byte size.
func (p *Poller) mediaLane(ctx context.Context, src Source, m transport.Message) (bool, int, error) {
	if m.Media == nil || !strings.Contains(m.Media.MIMEType, "video") {
		return false, 0, nil
	}
	if !classify.ExcludesAll(m.Text, p.cfg.Exclude) {
		return false, 0, nil
	}

	var links []string
	if m.Text != "" {
		links = p.resolver.ResolveEntityLinks(ctx, m.EntityURLs)
	}

	if !p.led.RecordSize(m.Media.Size) {
		p.log.Info("video already exists", slog.Int64("size", m.Media.Size), slog.String("chat", src.Chat))
		return true, 0, nil
	}

	n, err := p.disp.Dispatch(ctx, dispatch.Candidate{
		Source:      src.Chat,
		MessageID:   m.ID,
		Text:        m.Text,
		Links:       links,
		Fingerprint: fmt.Sprintf("size:%d", m.Media.Size),
		Media:       &transport.MediaRef{Chat: src.Chat, MessageID: m.ID},
	})
	if err != nil {
		return true, 0, fmt.Errorf("dispatch media %d: %w", m.ID, err)
	}
	return true, min(n, 1), nil
}

// textLinkLane handles messages whose text passes the include/exclude
// rules and carries at least one resolvable link.
func (p *Poller) textLinkLane(ctx context.Context, src Source, m transport.Message) (bool, int, error) {
	if m.Text == "" || !classify.ContainsAny(m.Text, p.cfg.Include) || !classify.ExcludesAll(m.Text, p.cfg.Exclude) {
		return false, 0, nil
	}

	jumpLinks := p.resolver.ResolveEntityLinks(ctx, m.EntityURLs)

	var match string
	if classify.ContainsAny(m.Text, classify.StorageKeywords) {
		match, _ = classify.ExtractLink(m.Text)
	}
	if len(jumpLinks) == 0 && match == "" {
		return false, 0, nil
	}

	link := match
	if len(jumpLinks) > 0 {
		link = jumpLinks[0]
	}

	if !p.led.RecordLink(link) {
		p.log.Info("link already exists", slog.String("link", link), slog.String("chat", src.Chat))
		return true, 0, nil
	}

	n, err := p.disp.Dispatch(ctx, dispatch.Candidate{
		Source:      src.Chat,
		MessageID:   m.ID,
		Text:        m.Text,
		Links:       jumpLinks,
		Fingerprint: link,
		Category:    classify.Categorize(link),
	})
	if err != nil {
		return true, 0, fmt.Errorf("dispatch message %d: %w", m.ID, err)
	}
	return true, min(n, 1), nil
}

// replyLane fetches the most recent replies to a message and applies the
// media and text-link tests to each one independently.
func (p *Poller) replyLane(ctx context.Context, src Source, m transport.Message) (int, error) {
	replies, err := p.tr.Replies(ctx, src.Chat, m.ID, p.cfg.RepliesLimit)
	if err != nil {
		return 0, fmt.Errorf("replies %s/%d: %w", src.Chat, m.ID, err)
	}

	total := 0
	for i := len(replies) - 1; i >= 0; i-- {
		r := replies[i]
		if ok, n, err := p.mediaLane(ctx, src, r); ok {
			if err != nil {
				return total, err
			}
			total += n
			continue
		}
		if ok, n, err := p.textLinkLane(ctx, src, r); ok {
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	return total, nil
}

// pause inserts the random rate-limit delay between messages.
func (p *Poller) pause(ctx context.Context) error {
	if p.cfg.MaxPause <= 0 {
		return nil
	}
	d := p.cfg.MinPause
	if span := p.cfg.MaxPause - p.cfg.MinPause; span > 0 {
		d += rand.N(span)
	}
	return sleepCtx(ctx, d)
}
