package poller

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/faringet/telegram-pan-forwarder/internal/classify"
	"github.com/faringet/telegram-pan-forwarder/internal/ledger"
	"github.com/faringet/telegram-pan-forwarder/internal/transport"
)

// Resolver exchanges bot-mediated redirect links for their real targets.
// A redirect link looks like https://t.me/SomeBot?start=<param>; resolving
// it means sending "/start <param>" to the bot, waiting briefly and
// extracting the first URL from its reply. Resolved targets are cached in
// the ledger keyed by the parameter, indefinitely.
type Resolver struct {
	tr   transport.Transport
	led  *ledger.Ledger
	wait time.Duration
	log  *slog.Logger
}

func NewResolver(tr transport.Transport, led *ledger.Ledger, wait time.Duration, log *slog.Logger) *Resolver {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		tr:   tr,
		led:  led,
		wait: wait,
		log:  log.With(slog.String("component", "resolver")),
	}
}

// ResolveEntityLinks maps a message's embedded hyperlinks to destination
// URLs: bot redirects are resolved through the bot, storage-provider URLs
// are unescaped and pattern-matched, everything else is dropped.
func (r *Resolver) ResolveEntityLinks(ctx context.Context, entityURLs []string) []string {
	var links []string
	for _, raw := range entityURLs {
		switch {
		case strings.Contains(raw, "start"):
			if resolved := r.resolveBotRedirect(ctx, raw); resolved != "" {
				links = append(links, resolved)
			}
		case !classify.ContainsAny(raw, classify.StorageKeywords):
			continue
		default:
			unescaped, err := url.QueryUnescape(raw)
			if err != nil {
				unescaped = raw
			}
			links = append(links, classify.ExtractURLs(unescaped)...)
		}
	}
	return links
}

func (r *Resolver) resolveBotRedirect(ctx context.Context, redirect string) string {
	bot, command, param, ok := parseBotRedirect(redirect)
	if !ok {
		return ""
	}

	if cached, hit := r.led.ResolveRedirect(param); hit {
		return cached
	}

	if _, err := r.tr.Send(ctx, bot, "/"+command+" "+param, nil); err != nil {
		r.log.Error("redirect bot command failed", slog.String("bot", bot), slog.Any("err", err))
		return ""
	}
	if err := sleepCtx(ctx, r.wait); err != nil {
		return ""
	}
	msgs, err := r.tr.History(ctx, bot, 1)
	if err != nil || len(msgs) == 0 {
		r.log.Error("redirect bot reply missing", slog.String("bot", bot), slog.Any("err", err))
		return ""
	}

	urls := classify.ExtractURLs(msgs[0].Text)
	if len(urls) == 0 {
		return ""
	}
	r.led.CacheRedirect(param, urls[0])
	return urls[0]
}

// parseBotRedirect splits https://t.me/SomeBot?start=<param> into the bot
// username, the command and the one-time parameter.
func parseBotRedirect(redirect string) (bot, command, param string, ok bool) {
	u, err := url.Parse(redirect)
	if err != nil {
		return "", "", "", false
	}
	bot = u.Path[strings.LastIndex(u.Path, "/")+1:]
	if bot == "" || u.RawQuery == "" {
		return "", "", "", false
	}
	command, param, found := strings.Cut(u.RawQuery, "=")
	if !found || command == "" || param == "" {
		return "", "", "", false
	}
	return bot, command, param, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
