// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inclusa/wcag-audit/internal/audit"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	DB       DBConfig       `mapstructure:"db"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ModelConfig configures the shared LLM client.
type ModelConfig struct {
	Name              string  `mapstructure:"name"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	CallTimeoutSec    int     `mapstructure:"call_timeout_seconds"`
	GlobalConcurrency int     `mapstructure:"global_concurrency"`
	MaxRetries        int     `mapstructure:"max_retries"`
}

// CrawlerConfig governs the bounded same-origin crawl.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	MaxPagesDefault   int    `mapstructure:"max_pages_default"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_seconds"`
	BudgetSeconds     int    `mapstructure:"budget_seconds"`
	RespectRobots     bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the optional chromedp promotion pass.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// DBConfig controls access to the relational store. An empty DSN selects
// the in-memory store (development and tests).
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// JobsConfig bounds per-job execution.
type JobsConfig struct {
	ModuleConcurrency int `mapstructure:"module_concurrency"`
	WallClockMinutes  int `mapstructure:"wall_clock_minutes"`
	ProgressFlushSec  int `mapstructure:"progress_flush_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("model.name", "gpt-4-turbo-preview")
	v.SetDefault("model.base_url", "https://api.openai.com/v1")
	v.SetDefault("model.temperature", 0.0)
	v.SetDefault("model.max_tokens", 5000)
	v.SetDefault("model.call_timeout_seconds", 120)
	v.SetDefault("model.global_concurrency", 32)
	v.SetDefault("model.max_retries", 3)
	v.SetDefault("crawler.user_agent", "inclusa-audit-bot/1.0")
	v.SetDefault("crawler.max_pages_default", 5)
	v.SetDefault("crawler.request_timeout_seconds", 15)
	v.SetDefault("crawler.budget_seconds", 120)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("jobs.module_concurrency", 12)
	v.SetDefault("jobs.wall_clock_minutes", 30)
	v.SetDefault("jobs.progress_flush_seconds", 1)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return audit.Errorf(audit.CodeConfigMissing, "server.port must be > 0")
	}
	if c.Model.APIKey == "" {
		return audit.Errorf(audit.CodeConfigMissing, "model.api_key is required")
	}
	if c.Model.Name == "" {
		return audit.Errorf(audit.CodeConfigMissing, "model.name is required")
	}
	if c.Model.GlobalConcurrency <= 0 {
		return audit.Errorf(audit.CodeConfigMissing, "model.global_concurrency must be > 0")
	}
	if c.Jobs.ModuleConcurrency < 2 {
		return audit.Errorf(audit.CodeConfigMissing, "jobs.module_concurrency must be >= 2")
	}
	if c.Crawler.MaxPagesDefault <= 0 {
		return audit.Errorf(audit.CodeConfigMissing, "crawler.max_pages_default must be > 0")
	}
	return nil
}

// CallTimeout converts the per-call ceiling into a duration.
func (c ModelConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSec) * time.Second
}

// WallClock converts the per-job ceiling into a duration.
func (c JobsConfig) WallClock() time.Duration {
	return time.Duration(c.WallClockMinutes) * time.Minute
}

// ProgressFlush converts the coalescing interval into a duration.
func (c JobsConfig) ProgressFlush() time.Duration {
	return time.Duration(c.ProgressFlushSec) * time.Second
}

// RequestTimeout converts the per-fetch ceiling into a duration.
func (c CrawlerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Budget converts the total crawl budget into a duration.
func (c CrawlerConfig) Budget() time.Duration {
	return time.Duration(c.BudgetSeconds) * time.Second
}

// MaxPagesFor bounds a requested page cap by plan tier. Zero requests the
// plan default.
func (c CrawlerConfig) MaxPagesFor(plan audit.PlanTier, requested int) int {
	ceiling := c.MaxPagesDefault
	switch plan {
	case audit.PlanPro:
		ceiling = c.MaxPagesDefault * 2
	case audit.PlanEnterprise:
		ceiling = c.MaxPagesDefault * 4
	}
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}
