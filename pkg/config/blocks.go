package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Logger is the shared logging block.
type Logger struct {
	Level   string `mapstructure:"level"`    // debug/info/warn/error
	JSON    bool   `mapstructure:"json"`     // true -> JSON logs
	AppName string `mapstructure:"app_name"` // set by the service config
}

func (l *Logger) Validate() error {
	if l == nil {
		return errors.New("logger config is nil")
	}
	if strings.TrimSpace(l.Level) == "" {
		return errors.New("logger.level is required")
	}
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logger.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	return nil
}

// MTProto holds the Telegram application keys and session settings.
// api_id/api_hash come from https://my.telegram.org; session is a local
// file keeping the authorization between runs.
type MTProto struct {
	APIID     int    `mapstructure:"api_id"`
	APIHash   string `mapstructure:"api_hash"`
	Phone     string `mapstructure:"phone"`    // +86123...
	Password  string `mapstructure:"password"` // 2FA, if enabled
	Session   string `mapstructure:"session"`  // e.g. "data/session.json"
	Device    Device `mapstructure:"device"`
	RateLimit Rate   `mapstructure:"rate_limit"`
}

// Device makes the session look like a regular client.
type Device struct {
	Model      string `mapstructure:"model"`       // "PC"
	System     string `mapstructure:"system"`      // "Windows 10"
	AppVersion string `mapstructure:"app_version"` // "1.0.0"
	LangCode   string `mapstructure:"lang_code"`   // "en" / "zh"
	SystemLang string `mapstructure:"system_lang"`
}

// Rate bounds how aggressively the transport is used.
type Rate struct {
	MinDelay    time.Duration `mapstructure:"min_delay"`    // e.g. 200ms
	MaxDelay    time.Duration `mapstructure:"max_delay"`    // e.g. 1s
	MaxAttempts int           `mapstructure:"max_attempts"` // retry budget per call
}

func (m *MTProto) Validate() error {
	if m == nil {
		return errors.New("mtproto config is nil")
	}
	if m.APIID == 0 {
		return errors.New("mtproto.api_id is required")
	}
	if strings.TrimSpace(m.APIHash) == "" {
		return errors.New("mtproto.api_hash is required")
	}
	if strings.TrimSpace(m.Session) == "" {
		return errors.New("mtproto.session is required (e.g. data/session.json)")
	}
	if strings.TrimSpace(m.Device.Model) == "" {
		return errors.New("mtproto.device.model is required")
	}
	if strings.TrimSpace(m.Device.System) == "" {
		return errors.New("mtproto.device.system is required")
	}
	if strings.TrimSpace(m.Device.AppVersion) == "" {
		return errors.New("mtproto.device.app_version is required")
	}
	if strings.TrimSpace(m.Device.LangCode) == "" {
		return errors.New("mtproto.device.lang_code is required")
	}
	if strings.TrimSpace(m.Device.SystemLang) == "" {
		return errors.New("mtproto.device.system_lang is required")
	}
	if m.RateLimit.MinDelay <= 0 {
		return errors.New("mtproto.rate_limit.min_delay must be > 0 (e.g. 200ms)")
	}
	if m.RateLimit.MaxDelay < m.RateLimit.MinDelay {
		return errors.New("mtproto.rate_limit.max_delay must be >= min_delay")
	}
	if m.RateLimit.MaxAttempts <= 0 {
		return errors.New("mtproto.rate_limit.max_attempts must be > 0")
	}
	return nil
}
