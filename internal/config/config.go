// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Store     StoreConfig     `mapstructure:"store"`
	History   HistoryConfig   `mapstructure:"history"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server used in serve mode.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// UpstreamConfig points at the movie catalog API.
type UpstreamConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	ListPath         string  `mapstructure:"list_path"`
	DetailPath       string  `mapstructure:"detail_path"`
	PageLimit        int     `mapstructure:"page_limit"`
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// CrawlerConfig governs run pipeline behavior.
type CrawlerConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	KeyPrefix         string `mapstructure:"key_prefix"`
	MaxEpisodeServers int    `mapstructure:"max_episode_servers"`
	MaxPages          int    `mapstructure:"max_pages"`
	RunBudgetSeconds  int    `mapstructure:"run_budget_seconds"`
}

// StoreConfig selects and configures the remote key-value store.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	RestURL  string `mapstructure:"rest_url"`
	Token    string `mapstructure:"token"`
}

// HistoryConfig selects and configures run history persistence.
type HistoryConfig struct {
	Provider      string `mapstructure:"provider"`
	DSN           string `mapstructure:"dsn"`
	Table         string `mapstructure:"table"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// PublisherConfig holds metadata for publish-subscribe notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig sets the blob store used for raw payload archival.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// ScheduleConfig drives serve mode cron runs.
type ScheduleConfig struct {
	Cron       string `mapstructure:"cron"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MOVIECRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindSecretKeys(v); err != nil {
		return Config{}, err
	}

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
	v.SetDefault("upstream.base_url", "https://phimapi.com")
	v.SetDefault("upstream.list_path", "/danh-sach/phim-moi-cap-nhat")
	v.SetDefault("upstream.detail_path", "/phim")
	v.SetDefault("upstream.page_limit", 3)
	v.SetDefault("upstream.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/114.0.0.0 Safari/537.36")
	v.SetDefault("upstream.timeout_seconds", 10)
	v.SetDefault("upstream.max_retries", 2)
	v.SetDefault("upstream.backoff_initial_ms", 250)
	v.SetDefault("upstream.backoff_max_ms", 2000)
	v.SetDefault("upstream.rate_limit_rps", 0.5)
	v.SetDefault("upstream.rate_limit_burst", 1)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.key_prefix", "movieapp")
	v.SetDefault("crawler.max_episode_servers", 20)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.run_budget_seconds", 0)
	v.SetDefault("store.provider", "upstash")
	v.SetDefault("history.provider", "noop")
	v.SetDefault("history.table", "runs")
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("archive.prefix", "runs")
	v.SetDefault("archive.content_type", "application/json; charset=utf-8")
	v.SetDefault("schedule.cron", "0 */6 * * *")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("logging.development", true)
}

// bindSecretKeys registers keys that carry no default. AutomaticEnv only
// resolves keys viper already knows about, so without an explicit bind these
// would be invisible to Unmarshal when supplied purely through the
// environment.
func bindSecretKeys(v *viper.Viper) error {
	keys := []string{
		"store.rest_url",
		"store.token",
		"history.dsn",
		"publisher.project_id",
		"publisher.topic_name",
		"archive.gcs_bucket",
		"archive.base_dir",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url must be set")
	}
	if c.Upstream.PageLimit <= 0 {
		return fmt.Errorf("upstream.page_limit must be > 0")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.KeyPrefix == "" {
		return fmt.Errorf("crawler.key_prefix must be set")
	}
	switch c.Store.Provider {
	case "upstash":
		if c.Store.RestURL == "" || c.Store.Token == "" {
			return fmt.Errorf("store.rest_url and store.token must be set for the upstash provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	if c.History.Provider == "postgres" && c.History.DSN == "" {
		return fmt.Errorf("history.dsn must be set for the postgres provider")
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.TopicName == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic_name must be set for the pubsub provider")
	}
	if c.Archive.Provider == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set for the gcs provider")
	}
	if c.Archive.Provider == "local" && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir must be set for the local provider")
	}
	return nil
}

// UpstreamTimeout converts the timeout config into a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// RunBudget returns the per-run wall clock budget, zero meaning unlimited.
func (c Config) RunBudget() time.Duration {
	return time.Duration(c.Crawler.RunBudgetSeconds) * time.Second
}

// Retention returns the run history retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
