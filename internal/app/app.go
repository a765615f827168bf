package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gotd/td/telegram"

	"github.com/faringet/telegram-pan-forwarder/config"
	"github.com/faringet/telegram-pan-forwarder/internal/classify"
	"github.com/faringet/telegram-pan-forwarder/internal/dispatch"
	"github.com/faringet/telegram-pan-forwarder/internal/ledger"
	mtclient "github.com/faringet/telegram-pan-forwarder/internal/mtproto"
	"github.com/faringet/telegram-pan-forwarder/internal/poller"
	"github.com/faringet/telegram-pan-forwarder/internal/storage"
	"github.com/faringet/telegram-pan-forwarder/internal/transport"
)

type App struct {
	cfg *config.Forwarder
	log *slog.Logger

	client *mtclient.Client
	store  storage.Store
	file   *ledger.File
}

func New(cfg *config.Forwarder, log *slog.Logger) (*App, error) {
	log = log.With(slog.String("component", "app"))

	client, err := mtclient.New(cfg.MTProto, log)
	if err != nil {
		return nil, err
	}

	store, err := newStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	file := ledger.NewFile(cfg.Forward.LedgerPath, cfg.Forward.CheckNum, log)

	return &App{
		cfg:    cfg,
		log:    log,
		client: client,
		store:  store,
		file:   file,
	}, nil
}

func newStore(cfg config.Storage) (storage.Store, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		return storage.NewSQLite(storage.SQLiteConfig{
			Path:        cfg.Path,
			BusyTimeout: 5 * time.Second,
		})
	case "postgres":
		return storage.NewPostgres(context.Background(), storage.PostgresConfig{DSN: cfg.DSN})
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

// Run executes one forwarding cycle over an authorized MTProto session.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("run started")

	return a.client.WithClient(ctx, func(ctx context.Context, td *telegram.Client) error {
		tr := transport.WithRetry(mtclient.NewTransport(td, a.log), transport.Policy{
			MaxAttempts: a.cfg.MTProto.RateLimit.MaxAttempts,
			BaseDelay:   a.cfg.MTProto.RateLimit.MinDelay,
		}, a.log)

		coord := NewCoordinator(a.coordinatorConfig(), tr, a.file, a.store, a.log)
		sum, err := coord.RunOnce(ctx)
		if err != nil {
			return err
		}

		if a.store != nil && a.cfg.Storage.Retention > 0 {
			if err := a.store.Prune(ctx, a.cfg.Storage.Retention); err != nil {
				a.log.Warn("archive prune failed", slog.Any("err", err))
			}
		}

		a.log.Info("run summary",
			slog.Int("sources_polled", sum.SourcesPolled),
			slog.Int("sources_skipped", sum.SourcesSkipped),
			slog.Int("forwarded", sum.Forwarded),
			slog.Int("today_count", sum.TodayCount),
			slog.Int("swept_deleted", sum.SweptDeleted),
		)
		return nil
	})
}

func (a *App) coordinatorConfig() CoordinatorConfig {
	fw := a.cfg.Forward

	sources := make([]poller.Source, 0, len(fw.Sources))
	for _, s := range fw.Sources {
		sources = append(sources, poller.Source{Chat: s.Chat, Limit: s.Limit})
	}

	rules := make([]dispatch.Rule, 0, len(fw.Rules))
	for _, r := range fw.Rules {
		rules = append(rules, dispatch.Rule{
			Include: r.Include,
			Exclude: r.Exclude,
			Target:  r.Target,
		})
	}

	rewrite := make(map[classify.Category][]string, len(fw.HyperlinkText))
	for cat, phrases := range fw.HyperlinkText {
		rewrite[classify.Category(cat)] = phrases
	}

	return CoordinatorConfig{
		Sources:       sources,
		DefaultTarget: fw.Target,
		Rules:         rules,
		Include:       fw.Include,
		Exclude:       fw.Exclude,
		Rewrite:       rewrite,
		Replacements:  fw.Replacements,
		OnlyToday:     fw.OnlyToday,
		TryJoin:       fw.TryJoin,
		CheckReplies:  fw.CheckReplies,
		RepliesLimit:  fw.RepliesLimit,
		CheckNum:      fw.CheckNum,
		MinPause:      fw.MinPause,
		MaxPause:      fw.MaxPause,
		ResolveWait:   fw.ResolveWait,
	}
}
