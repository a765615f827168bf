package config

import (
	"fmt"
	"time"

	"github.com/faringet/telegram-pan-forwarder/internal/classify"
	pcfg "github.com/faringet/telegram-pan-forwarder/pkg/config"
)

type Forwarder struct {
	AppName string      `mapstructure:"app_name"`
	Env     string      `mapstructure:"env"`
	Logger  pcfg.Logger `mapstructure:"logger"`

	MTProto pcfg.MTProto `mapstructure:"mtproto"`
	Forward Forward      `mapstructure:"forward"`
	Storage Storage      `mapstructure:"storage"`
}

// Source names one chat to poll and how deep into its history to look.
type Source struct {
	Chat  string `mapstructure:"chat"`
	Limit int    `mapstructure:"limit"`
}

// Rule sends matching messages to a dedicated destination. A message may
// match several rules and is forwarded to each of their targets.
type Rule struct {
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
	Target  string   `mapstructure:"target"`
}

type Forward struct {
	Sources []Source `mapstructure:"sources"`
	Target  string   `mapstructure:"target"` // default destination
	Rules   []Rule   `mapstructure:"rules"`

	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`

	// PastYears allows forwarding decade-old releases. When false, year
	// strings from 1895 up to eleven years back become exclusion keywords.
	PastYears bool `mapstructure:"past_years"`

	OnlyToday    bool `mapstructure:"only_today"`
	TryJoin      bool `mapstructure:"try_join"`
	CheckReplies bool `mapstructure:"check_replies"`
	RepliesLimit int  `mapstructure:"replies_limit"`

	// CheckNum bounds the retroactive duplicate sweep per destination and
	// floors the persisted daily counter.
	CheckNum int `mapstructure:"checknum"`

	// HyperlinkText maps a storage category to trigger phrases; when a
	// phrase occurs in a message that carries a link of that category, the
	// phrase is replaced with the link itself.
	HyperlinkText map[string][]string `mapstructure:"hyperlink_text"`

	// Replacements maps a desired string to the strings it replaces, for
	// example the own channel handle over the source channel's watermarks.
	Replacements map[string][]string `mapstructure:"replacements"`

	LedgerPath string `mapstructure:"ledger_path"`

	MinPause    time.Duration `mapstructure:"min_pause"`
	MaxPause    time.Duration `mapstructure:"max_pause"`
	ResolveWait time.Duration `mapstructure:"resolve_wait"`
}

// Storage selects the optional forward archive backend.
type Storage struct {
	Driver    string        `mapstructure:"driver"` // sqlite, postgres or none
	Path      string        `mapstructure:"path"`   // sqlite file
	DSN       string        `mapstructure:"dsn"`    // postgres connection string
	Retention time.Duration `mapstructure:"retention"`
}

func (f *Forward) Validate() error {
	if len(f.Sources) == 0 {
		return fmt.Errorf("forward.sources must name at least one chat")
	}
	for i, s := range f.Sources {
		if s.Chat == "" {
			return fmt.Errorf("forward.sources[%d].chat is required", i)
		}
	}
	if f.Target == "" {
		return fmt.Errorf("forward.target is required")
	}
	for i, r := range f.Rules {
		if r.Target == "" {
			return fmt.Errorf("forward.rules[%d].target is required", i)
		}
		if len(r.Include) == 0 {
			return fmt.Errorf("forward.rules[%d].include must not be empty", i)
		}
	}
	known := make(map[string]struct{})
	for _, c := range classify.Categories() {
		known[string(c)] = struct{}{}
	}
	for cat := range f.HyperlinkText {
		if _, ok := known[cat]; !ok {
			return fmt.Errorf("forward.hyperlink_text: unknown category %q", cat)
		}
	}
	return nil
}

func (s *Storage) Validate() error {
	switch s.Driver {
	case "", "none":
	case "sqlite":
		if s.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if s.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of [none, sqlite, postgres], got %q", s.Driver)
	}
	return nil
}

func (c *Forwarder) Validate() error {
	if c.AppName == "" {
		c.AppName = "pan-forwarder"
	}
	if c.Env == "" {
		c.Env = "dev"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	c.Logger.AppName = c.AppName
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	if err := c.MTProto.Validate(); err != nil {
		return fmt.Errorf("mtproto: %w", err)
	}
	if err := c.Forward.Validate(); err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	return nil
}

func New() *Forwarder {
	c := pcfg.MustLoad[Forwarder](pcfg.Options{
		Paths: []string{
			"./config",
			"./configs",
		},
		Names:         []string{"config", "forwarder", "config.local"},
		Type:          "yaml",
		EnvPrefix:     "TGF",
		OptionalFiles: true,
	})

	if c.MTProto.Session == "" {
		c.MTProto.Session = "data/session.json"
	}
	if c.MTProto.RateLimit.MinDelay <= 0 {
		c.MTProto.RateLimit.MinDelay = 400 * time.Millisecond
	}
	if c.MTProto.RateLimit.MaxDelay <= 0 {
		c.MTProto.RateLimit.MaxDelay = 2 * time.Second
	}
	if c.MTProto.RateLimit.MaxAttempts <= 0 {
		c.MTProto.RateLimit.MaxAttempts = 3
	}

	for i := range c.Forward.Sources {
		if c.Forward.Sources[i].Limit <= 0 {
			c.Forward.Sources[i].Limit = 50
		}
	}
	if c.Forward.CheckNum <= 0 {
		c.Forward.CheckNum = 1000
	}
	if c.Forward.RepliesLimit <= 0 {
		c.Forward.RepliesLimit = 10
	}
	if c.Forward.LedgerPath == "" {
		c.Forward.LedgerPath = "data/history.json"
	}
	if c.Forward.MinPause <= 0 {
		c.Forward.MinPause = 200 * time.Millisecond
	}
	if c.Forward.MaxPause <= 0 {
		c.Forward.MaxPause = time.Second
	}
	if c.Forward.ResolveWait <= 0 {
		c.Forward.ResolveWait = 2 * time.Second
	}
	if !c.Forward.PastYears {
		c.Forward.Exclude = append(c.Forward.Exclude, classify.YearExclusions(time.Now())...)
	}
	if c.Storage.Retention <= 0 {
		c.Storage.Retention = 90 * 24 * time.Hour
	}

	if err := c.Validate(); err != nil {
		panic(fmt.Errorf("invalid pan-forwarder config: %w", err))
	}

	return c
}
