package config

import (
	"strings"
	"testing"

	pcfg "github.com/faringet/telegram-pan-forwarder/pkg/config"
)

func validForwarder() *Forwarder {
	return &Forwarder{
		Logger: pcfg.Logger{Level: "info"},
		MTProto: pcfg.MTProto{
			APIID:   12345,
			APIHash: "hash",
			Session: "data/session.json",
			Device: pcfg.Device{
				Model: "PC", System: "Linux", AppVersion: "1.0.0",
				LangCode: "en", SystemLang: "en",
			},
			RateLimit: pcfg.Rate{MinDelay: 200_000_000, MaxDelay: 1_000_000_000, MaxAttempts: 3},
		},
		Forward: Forward{
			Sources: []Source{{Chat: "@src", Limit: 50}},
			Target:  "@pan",
		},
	}
}

func TestValidateOK(t *testing.T) {
	c := validForwarder()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.AppName != "pan-forwarder" {
		t.Errorf("app name default = %q", c.AppName)
	}
	if c.Logger.AppName != c.AppName {
		t.Errorf("logger app name not propagated: %q", c.Logger.AppName)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Forwarder)
		wantSub string
	}{
		{
			name:    "no sources",
			mutate:  func(c *Forwarder) { c.Forward.Sources = nil },
			wantSub: "forward.sources",
		},
		{
			name:    "missing target",
			mutate:  func(c *Forwarder) { c.Forward.Target = "" },
			wantSub: "forward.target",
		},
		{
			name: "rule without target",
			mutate: func(c *Forwarder) {
				c.Forward.Rules = []Rule{{Include: []string{"国产剧"}}}
			},
			wantSub: "rules[0].target",
		},
		{
			name: "rule without include",
			mutate: func(c *Forwarder) {
				c.Forward.Rules = []Rule{{Target: "@cn"}}
			},
			wantSub: "rules[0].include",
		},
		{
			name: "unknown hyperlink category",
			mutate: func(c *Forwarder) {
				c.Forward.HyperlinkText = map[string][]string{"dropbox": {"点击获取"}}
			},
			wantSub: "unknown category",
		},
		{
			name: "sqlite without path",
			mutate: func(c *Forwarder) {
				c.Storage = Storage{Driver: "sqlite"}
			},
			wantSub: "storage.path",
		},
		{
			name: "unknown storage driver",
			mutate: func(c *Forwarder) {
				c.Storage = Storage{Driver: "redis"}
			},
			wantSub: "storage.driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validForwarder()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateAcceptsKnownHyperlinkCategories(t *testing.T) {
	c := validForwarder()
	c.Forward.HyperlinkText = map[string][]string{
		"quark":  {"点击获取", "资源链接"},
		"aliyun": {"阿里云盘"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
