package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/folio-site/folio/pkg/chat"
)

// Config holds all folio configuration.
type Config struct {
	Listen  string        `yaml:"listen" validate:"required"`
	Site    SiteConfig    `yaml:"site"`
	Chat    ChatConfig    `yaml:"chat"`
	History HistoryConfig `yaml:"history"`
	Offline OfflineConfig `yaml:"offline"`
	Log     LogConfig     `yaml:"log"`
}

// SiteConfig controls the origin that serves the portfolio itself.
type SiteConfig struct {
	// Directory holding index.html, css/ and js/.
	Root string `yaml:"root" validate:"required"`
	// Completion function that /api/ requests are forwarded to. Empty
	// disables forwarding.
	APIUpstream string `yaml:"api_upstream" validate:"omitempty,url"`
	CORSOrigin  string `yaml:"cors_origin"`
}

// ChatConfig controls the chat session and its completion client.
type ChatConfig struct {
	Endpoint      string        `yaml:"endpoint" validate:"required,url"`
	ContextWindow int           `yaml:"context_window" validate:"gte=1"`
	RetryDelay    time.Duration `yaml:"retry_delay" validate:"gte=0"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
	Welcome       string        `yaml:"welcome" validate:"required"`
}

// HistoryConfig controls transcript persistence.
// Backend is "sqlite" (default) or "redis".
type HistoryConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=sqlite redis"`
	DBPath        string `yaml:"db_path" validate:"required_if=Backend sqlite"`
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	Key           string `yaml:"key" validate:"required"`
	MaxTurns      int    `yaml:"max_turns" validate:"gte=1"`
	FallbackTurns int    `yaml:"fallback_turns" validate:"gte=1,ltefield=MaxTurns"`
	QuotaBytes    int64  `yaml:"quota_bytes" validate:"gte=0"`
}

// OfflineConfig controls the offline cache worker.
type OfflineConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"required_if=Enabled true"`
	// Origin the worker fetches from. Defaults to the site listener.
	Upstream     string        `yaml:"upstream" validate:"omitempty,url"`
	DBPath       string        `yaml:"db_path" validate:"required"`
	Version      string        `yaml:"version" validate:"required"`
	APIPrefix    string        `yaml:"api_prefix" validate:"required,startswith=/"`
	Manifest     []string      `yaml:"manifest" validate:"dive,startswith=/"`
	SkipWaiting  bool          `yaml:"skip_waiting"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gte=0"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":3001",
		Site: SiteConfig{
			Root:       "public",
			CORSOrigin: "*",
		},
		Chat: ChatConfig{
			Endpoint:      "http://localhost:3001/api/chat",
			ContextWindow: chat.DefaultContextWindow,
			RetryDelay:    chat.DefaultRetryDelay,
			Welcome:       chat.DefaultWelcome,
		},
		History: HistoryConfig{
			Backend:       "sqlite",
			DBPath:        "folio-history.db",
			Key:           "chatbot-history",
			MaxTurns:      50,
			FallbackTurns: 25,
		},
		Offline: OfflineConfig{
			Enabled:   false,
			Listen:    ":8080",
			DBPath:    "folio-cache.db",
			Version:   "folio-v1",
			APIPrefix: "/api/",
			Manifest: []string{
				"/",
				"/index.html",
				"/css/style.css",
				"/js/script.js",
			},
			SkipWaiting:  true,
			FetchTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config file, expands environment variables and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when path does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// OfflineUpstream returns the origin URL the offline worker fetches from.
func (c *Config) OfflineUpstream() string {
	if c.Offline.Upstream != "" {
		return c.Offline.Upstream
	}
	host := c.Listen
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	return "http://" + host
}
