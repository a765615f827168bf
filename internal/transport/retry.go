package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds the retries applied uniformly at the transport boundary.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	return p
}

// WithRetry wraps every transport operation in a bounded exponential
// backoff. Exhausted retries surface the last error unchanged to the
// caller, which treats it as a source-scoped failure.
func WithRetry(inner Transport, p Policy, log *slog.Logger) Transport {
	if log == nil {
		log = slog.Default()
	}
	return &retrying{
		inner:  inner,
		policy: p.withDefaults(),
		log:    log.With(slog.String("component", "transport.retry")),
	}
}

type retrying struct {
	inner  Transport
	policy Policy
	log    *slog.Logger
}

func (r *retrying) do(ctx context.Context, op string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(uint64(r.policy.MaxAttempts-1), retry.NewExponential(r.policy.BaseDelay))
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt < r.policy.MaxAttempts {
			r.log.Warn("transport call failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Any("err", err),
			)
		}
		return retry.RetryableError(err)
	})
}

func (r *retrying) Resolve(ctx context.Context, chat string) error {
	return r.do(ctx, "resolve", func(ctx context.Context) error {
		return r.inner.Resolve(ctx, chat)
	})
}

func (r *retrying) Join(ctx context.Context, chat string) error {
	return r.do(ctx, "join", func(ctx context.Context) error {
		return r.inner.Join(ctx, chat)
	})
}

func (r *retrying) History(ctx context.Context, chat string, limit int) ([]Message, error) {
	var out []Message
	err := r.do(ctx, "history", func(ctx context.Context) error {
		var err error
		out, err = r.inner.History(ctx, chat, limit)
		return err
	})
	return out, err
}

func (r *retrying) Replies(ctx context.Context, chat string, messageID, limit int) ([]Message, error) {
	var out []Message
	err := r.do(ctx, "replies", func(ctx context.Context) error {
		var err error
		out, err = r.inner.Replies(ctx, chat, messageID, limit)
		return err
	})
	return out, err
}

func (r *retrying) Send(ctx context.Context, chat, text string, ref *MediaRef) (SentMessage, error) {
	var out SentMessage
	err := r.do(ctx, "send", func(ctx context.Context) error {
		var err error
		out, err = r.inner.Send(ctx, chat, text, ref)
		return err
	})
	return out, err
}

func (r *retrying) Pin(ctx context.Context, chat string, messageID int) error {
	return r.do(ctx, "pin", func(ctx context.Context) error {
		return r.inner.Pin(ctx, chat, messageID)
	})
}

func (r *retrying) Delete(ctx context.Context, chat string, messageIDs []int) error {
	return r.do(ctx, "delete", func(ctx context.Context) error {
		return r.inner.Delete(ctx, chat, messageIDs)
	})
}

func (r *retrying) DownloadMedia(ctx context.Context, chat string, messageID int) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "download", func(ctx context.Context) error {
		var err error
		out, err = r.inner.DownloadMedia(ctx, chat, messageID)
		return err
	})
	return out, err
}
