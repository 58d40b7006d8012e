package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
	Semaphore   SemaphoreConfig   `toml:"semaphore"`
	Queue       QueueConfig       `toml:"queue"`
	Crawl       CrawlConfig       `toml:"crawl"`
	Map         MapConfig         `toml:"map"`
	Search      SearchConfig      `toml:"search"`
	Engine      EngineConfig      `toml:"engine"`
	Tenants     TenantsConfig     `toml:"tenants"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // delete database on startup for clean test runs
}

type SemaphoreConfig struct {
	TTL        string `toml:"ttl"`         // lease TTL, e.g. "60s"; heartbeat ticks at TTL/2
	SelfHosted bool   `toml:"self_hosted"` // bypass acquire/heartbeat/release entirely
}

type QueueConfig struct {
	Workers        int    `toml:"workers"`         // ready-queue workers in this process
	JobTimeout     string `toml:"job_timeout"`     // waiting-queue deadline per job, e.g. "1h"
	PromoteRetries int    `toml:"promote_retries"` // hard bail for one promoteNext call
	RecordTTL      string `toml:"record_ttl"`      // waiting queue key TTL
}

type CrawlConfig struct {
	RecordTTL        string `toml:"record_ttl"`         // crawl key TTL, default 24h
	PreviewRecordTTL string `toml:"preview_record_ttl"` // shortened TTL for preview tenants
	DefaultLimit     int    `toml:"default_limit"`      // visited_unique cap when unset
	DefaultTimeout   string `toml:"default_timeout"`    // per-scrape budget inside a crawl
}

type MapConfig struct {
	MaxLimit      int    `toml:"max_limit"` // MAX_MAP_LIMIT
	Timeout       string `toml:"timeout"`
	CacheTTL      string `toml:"cache_ttl"`      // search response cache, default 48h
	IndexWindow   string `toml:"index_window"`   // domain index freshness, default 336h
	SitemapBudget string `toml:"sitemap_budget"` // traversal wall clock, default 120s
}

type SearchConfig struct {
	BaseURL       string  `toml:"base_url"`
	APIKey        string  `toml:"api_key"`
	PageSize      int     `toml:"page_size"`
	MaxPages      int     `toml:"max_pages"`
	RatePerSecond float64 `toml:"rate_per_second"`
}

type EngineConfig struct {
	UserAgent      string `toml:"user_agent"`
	RequestTimeout string `toml:"request_timeout"`
	RequestDelay   string `toml:"request_delay"` // per-domain politeness delay
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
	EnableRender   bool   `toml:"enable_render"` // headless rendering via chromedp
}

type TenantsConfig struct {
	Dir            string `toml:"dir"`           // directory of per-tenant yaml files
	DefaultLimit   int    `toml:"default_limit"` // concurrency for unknown tenants
	DefaultCredits int64  `toml:"default_credits"`
	CacheTTL       string `toml:"cache_ttl"`
}

type MaintenanceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // cron format
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Port: 3002, Host: "localhost"},
		Logging:     LoggingConfig{Level: "info", Output: []string{"stdout"}},
		Storage:     StorageConfig{Badger: BadgerConfig{Path: "./data/crawlspace"}},
		Semaphore:   SemaphoreConfig{TTL: "60s"},
		Queue: QueueConfig{
			Workers:        8,
			JobTimeout:     "1h",
			PromoteRetries: 100,
			RecordTTL:      "24h",
		},
		Crawl: CrawlConfig{
			RecordTTL:        "24h",
			PreviewRecordTTL: "1h",
			DefaultLimit:     10000,
			DefaultTimeout:   "60s",
		},
		Map: MapConfig{
			MaxLimit:      5000,
			Timeout:       "120s",
			CacheTTL:      "48h",
			IndexWindow:   "336h",
			SitemapBudget: "120s",
		},
		Search: SearchConfig{PageSize: 100, MaxPages: 10, RatePerSecond: 5},
		Engine: EngineConfig{
			UserAgent:      "crawlspace",
			RequestTimeout: "30s",
			RequestDelay:   "0s",
			MaxBodyBytes:   10 << 20,
		},
		Tenants:     TenantsConfig{Dir: "./tenants", DefaultLimit: 10, DefaultCredits: 1000000, CacheTTL: "60s"},
		Maintenance: MaintenanceConfig{Enabled: true, Schedule: "@every 10m"},
	}
}

// LoadFromFiles loads configuration in layers: defaults, then each file in
// order (later files override earlier ones), then environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies CRAWLSPACE_* environment variables on top of the
// file-derived configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CRAWLSPACE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("CRAWLSPACE_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("CRAWLSPACE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("CRAWLSPACE_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("CRAWLSPACE_SELF_HOSTED"); v != "" {
		config.Semaphore.SelfHosted = v == "true" || v == "1"
	}
	if v := os.Getenv("CRAWLSPACE_SEARCH_API_KEY"); v != "" {
		config.Search.APIKey = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Duration parses a config duration string, falling back when empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
