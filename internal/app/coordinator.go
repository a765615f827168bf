package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faringet/telegram-pan-forwarder/internal/classify"
	"github.com/faringet/telegram-pan-forwarder/internal/dispatch"
	"github.com/faringet/telegram-pan-forwarder/internal/ledger"
	"github.com/faringet/telegram-pan-forwarder/internal/poller"
	"github.com/faringet/telegram-pan-forwarder/internal/storage"
	"github.com/faringet/telegram-pan-forwarder/internal/transport"
)

// CoordinatorConfig is the static per-run configuration.
type CoordinatorConfig struct {
	Sources       []poller.Source
	DefaultTarget string
	Rules         []dispatch.Rule

	Include []string
	Exclude []string

	Rewrite      map[classify.Category][]string
	Replacements map[string][]string

	OnlyToday    bool
	TryJoin      bool
	CheckReplies bool
	RepliesLimit int

	// CheckNum bounds the retroactive dedup sweep depth per destination
	// and doubles as the destination-history seeding depth.
	CheckNum int

	MinPause    time.Duration
	MaxPause    time.Duration
	ResolveWait time.Duration
}

// Summary is what one run reports back to the scheduler.
type Summary struct {
	SourcesPolled  int
	SourcesSkipped int
	Forwarded      int
	TodayCount     int
	SweptDeleted   int
}

// Coordinator drives one execution cycle: load ledger, fan out pollers,
// post the daily counter, sweep destination duplicates, persist.
type Coordinator struct {
	cfg   CoordinatorConfig
	tr    transport.Transport
	file  *ledger.File
	store storage.Store // optional
	log   *slog.Logger
}

func NewCoordinator(cfg CoordinatorConfig, tr transport.Transport, file *ledger.File, store storage.Store, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CheckNum <= 0 {
		cfg.CheckNum = 1000
	}
	return &Coordinator{
		cfg:   cfg,
		tr:    tr,
		file:  file,
		store: store,
		log:   log.With(slog.String("component", "coordinator")),
	}
}

// RunOnce executes one full cycle. A failure inside a single source never
// cancels its siblings, and the ledger is persisted on every path that
// got past source validation.
func (c *Coordinator) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	led := c.file.Load()
	c.seedFromDestinations(ctx, led)

	reachable := c.reachableSources(ctx, &sum)
	if len(reachable) == 0 {
		c.log.Warn("no reachable sources, nothing to do")
		return sum, nil
	}

	// Everything past this point flushes the ledger, even on errors.
	defer func() {
		if err := c.file.Persist(led); err != nil {
			c.log.Error("ledger persist failed", slog.Any("err", err))
		}
	}()

	sum.Forwarded = c.pollAll(ctx, led, reachable)
	sum.SourcesPolled = len(reachable)
	sum.TodayCount = led.AddTodayCount(sum.Forwarded)

	c.postDailyCounters(ctx, led, sum.TodayCount)
	sum.SweptDeleted = c.sweepDuplicates(ctx, led)

	c.log.Info("run finished",
		slog.Int("forwarded", sum.Forwarded),
		slog.Int("today_count", sum.TodayCount),
		slog.Int("swept", sum.SweptDeleted),
		slog.Duration("duration", time.Since(start)),
	)
	return sum, ctx.Err()
}

// seedFromDestinations primes the dedup sets with fingerprints already
// present in the default destination's recent history, so restarts do not
// re-forward what is visibly there.
func (c *Coordinator) seedFromDestinations(ctx context.Context, led *ledger.Ledger) {
	depth := c.cfg.CheckNum
	if tc := led.TodayCount(); tc > depth {
		depth = tc
	}
	msgs, err := c.tr.History(ctx, c.cfg.DefaultTarget, depth)
	if err != nil {
		c.log.Warn("destination history seed failed", slog.String("chat", c.cfg.DefaultTarget), slog.Any("err", err))
		return
	}
	for _, m := range msgs {
		if m.Media != nil && strings.Contains(m.Media.MIMEType, "video") {
			led.RecordSize(m.Media.Size)
		}
		if link, ok := classify.ExtractLink(m.Text); ok {
			led.RecordLink(link)
		}
	}
}

// reachableSources drops sources the transport cannot resolve.
func (c *Coordinator) reachableSources(ctx context.Context, sum *Summary) []poller.Source {
	var out []poller.Source
	for _, src := range c.cfg.Sources {
		if err := c.tr.Resolve(ctx, src.Chat); err != nil {
			c.log.Warn("source unreachable, skipping", slog.String("chat", src.Chat), slog.Any("err", err))
			sum.SourcesSkipped++
			continue
		}
		out = append(out, src)
	}
	return out
}

// pollAll runs one poller per source concurrently. All pollers share the
// ledger's fingerprint sets; a failing source logs and returns partial
// results without cancelling the others, and the join waits for all.
func (c *Coordinator) pollAll(ctx context.Context, led *ledger.Ledger, sources []poller.Source) int {
	router := dispatch.New(dispatch.Config{
		Rules:         c.cfg.Rules,
		DefaultTarget: c.cfg.DefaultTarget,
		Rewrite:       c.cfg.Rewrite,
		Replacements:  c.cfg.Replacements,
	}, c.tr, c.store, c.log)

	pcfg := poller.Config{
		Include:      c.cfg.Include,
		Exclude:      c.cfg.Exclude,
		OnlyToday:    c.cfg.OnlyToday,
		TryJoin:      c.cfg.TryJoin,
		CheckReplies: c.cfg.CheckReplies,
		RepliesLimit: c.cfg.RepliesLimit,
		MinPause:     c.cfg.MinPause,
		MaxPause:     c.cfg.MaxPause,
	}

	var (
		mu    sync.Mutex
		total int
	)

	var g errgroup.Group
	for _, src := range sources {
		g.Go(func() error {
			resolver := poller.NewResolver(c.tr, led, c.cfg.ResolveWait, c.log)
			p := poller.New(pcfg, c.tr, led, resolver, router, c.log)

			res, err := p.Poll(ctx, src)
			if err != nil {
				// Source-scoped failure: keep the partial result, let the
				// sibling sources finish.
				c.log.Error("source polling failed", slog.String("chat", src.Chat), slog.Any("err", err))
			}
			mu.Lock()
			total += res.Forwarded
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return total
}

// destinations lists the default target plus every rule target, deduped
// in configuration order.
func (c *Coordinator) destinations() []string {
	out := []string{c.cfg.DefaultTarget}
	seen := map[string]struct{}{c.cfg.DefaultTarget: {}}
	for _, r := range c.cfg.Rules {
		if _, ok := seen[r.Target]; ok {
			continue
		}
		seen[r.Target] = struct{}{}
		out = append(out, r.Target)
	}
	return out
}

// postDailyCounters replaces the pinned "today's count" message in every
// destination. Best-effort per destination.
func (c *Coordinator) postDailyCounters(ctx context.Context, led *ledger.Ledger, todayCount int) {
	prev := led.CounterMessageIDs()
	next := make(map[string]int)

	text := fmt.Sprintf("**今日共更新【%d】条资源**", todayCount)

	for _, chat := range c.destinations() {
		if id, ok := prev[chat]; ok {
			if err := c.tr.Delete(ctx, chat, []int{id}); err != nil {
				c.log.Warn("old counter delete failed", slog.String("chat", chat), slog.Any("err", err))
			}
		}

		sent, err := c.tr.Send(ctx, chat, text, nil)
		if err != nil {
			c.log.Error("counter send failed", slog.String("chat", chat), slog.Any("err", err))
			continue
		}
		if err := c.tr.Pin(ctx, chat, sent.ID); err != nil {
			c.log.Warn("counter pin failed", slog.String("chat", chat), slog.Any("err", err))
		}
		next[chat] = sent.ID
	}

	led.SetCounterMessageIDs(next)
}

// sweepDuplicates retroactively deletes destination messages repeating a
// link from this run's seen set, keeping the first occurrence in
// newest-to-oldest scan order (the most recent copy survives).
func (c *Coordinator) sweepDuplicates(ctx context.Context, led *ledger.Ledger) int {
	targetLinks := make(map[string]struct{})
	for _, l := range led.Links() {
		targetLinks[l] = struct{}{}
	}
	if len(targetLinks) == 0 {
		return 0
	}

	deleted := 0
	for _, chat := range c.destinations() {
		msgs, err := c.tr.History(ctx, chat, c.cfg.CheckNum)
		if err != nil {
			c.log.Error("sweep history failed", slog.String("chat", chat), slog.Any("err", err))
			continue
		}

		kept := make(map[string]struct{})
		var toDelete []int
		for _, m := range msgs {
			link, ok := classify.ExtractLink(m.Text)
			if !ok {
				continue
			}
			if _, tracked := targetLinks[link]; !tracked {
				continue
			}
			if _, seen := kept[link]; seen {
				toDelete = append(toDelete, m.ID)
			} else {
				kept[link] = struct{}{}
			}
		}

		if len(toDelete) == 0 {
			continue
		}
		c.log.Info("deleting duplicate history messages",
			slog.String("chat", chat),
			slog.Int("count", len(toDelete)),
		)
		for i := 0; i < len(toDelete); i += transport.MaxDeleteBatch {
			end := min(i+transport.MaxDeleteBatch, len(toDelete))
			if err := c.tr.Delete(ctx, chat, toDelete[i:end]); err != nil {
				c.log.Error("sweep delete failed", slog.String("chat", chat), slog.Any("err", err))
				break
			}
			deleted += end - i
		}
	}
	return deleted
}
