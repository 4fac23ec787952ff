package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "America/New_York"

	configPathEnv   = "MARKETBRIEF_CONFIG"
	databaseDSNEnv  = "DATABASE_DSN"
	redisAddrEnv    = "REDIS_ADDR"
	projectIDEnv    = "PROJECT_ID"
	rawBucketEnv    = "RAW_BARS_BUCKET"
	reportBucketEnv = "REPORT_DOCS_BUCKET"
	marketAPIKeyEnv = "MARKET_DATA_API_KEY"
	logModeEnv      = "LOG_MODE"
)

// Config holds all settings shared across the pipeline binaries.
type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Buckets   BucketConfig    `yaml:"buckets"`
	Topics    TopicConfig     `yaml:"topics"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Market    MarketConfig    `yaml:"market"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Render    RenderConfig    `yaml:"render"`
	Query     QueryConfig     `yaml:"query"`
	LogMode   string          `yaml:"logMode"`
	Tickers   []TickerConfig  `yaml:"tickers"`
}

// ProjectConfig identifies the GCP project hosting the buckets and topics.
type ProjectConfig struct {
	ID     string `yaml:"id"`
	Region string `yaml:"region"`
}

// DatabaseConfig describes the Postgres connection.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// CacheConfig describes the Redis instance fronting report lookups.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// BucketConfig names the object-store buckets.
type BucketConfig struct {
	RawBars    string `yaml:"rawBars"`
	ReportDocs string `yaml:"reportDocs"`
}

// TopicConfig names the Pub/Sub topics that wire the stages together.
type TopicConfig struct {
	IngestCompleted string `yaml:"ingestCompleted"`
	ReportsReady    string `yaml:"reportsReady"`
}

// QueueConfig describes the on-demand job queue.
type QueueConfig struct {
	Topic        string `yaml:"topic"`
	Subscription string `yaml:"subscription"`
	DeadLetter   string `yaml:"deadLetter"`
	MaxAttempts  int    `yaml:"maxAttempts"`
	Workers      int    `yaml:"workers"`
}

// SchedulerConfig defines when the daily ingest runs.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the configured timezone. All artifact dates are
// stamped in this location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// MarketConfig points at the external market-data API.
type MarketConfig struct {
	BaseURL      string        `yaml:"baseUrl"`
	APIKey       string        `yaml:"apiKey"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	Parallelism  int           `yaml:"parallelism"`
}

// SynthesisConfig selects the generative model used to write reports.
type SynthesisConfig struct {
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	BarDays int           `yaml:"barDays"`
}

// RenderConfig tunes the document rendering stage.
type RenderConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Parallelism int           `yaml:"parallelism"`
	FontPath    string        `yaml:"fontPath"`
}

// QueryConfig describes the read-only lookup service.
type QueryConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// TickerConfig is one registry entry.
type TickerConfig struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
}

// GetEnv reads an environment variable or returns a fallback.
func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// Load reads the YAML config (if MARKETBRIEF_CONFIG is set) and applies
// environment overrides on top of the built-in defaults.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config: cannot read %s: %v (using defaults)", path, err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Printf("config: cannot parse %s: %v (using defaults)", path, err)
			cfg = defaultConfig()
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	return cfg
}

// Validate checks the fields every binary needs before it can start.
func (c Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("project.id must be set (or PROJECT_ID)")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set (or DATABASE_DSN)")
	}
	if len(c.Tickers) == 0 {
		return fmt.Errorf("at least one ticker must be registered")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Cache.Addr = v
	}
	if v := os.Getenv(projectIDEnv); v != "" {
		c.Project.ID = v
	}
	if v := os.Getenv(rawBucketEnv); v != "" {
		c.Buckets.RawBars = v
	}
	if v := os.Getenv(reportBucketEnv); v != "" {
		c.Buckets.ReportDocs = v
	}
	if v := os.Getenv(marketAPIKeyEnv); v != "" {
		c.Market.APIKey = v
	}
	if v := os.Getenv(logModeEnv); v != "" {
		c.LogMode = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func defaultConfig() Config {
	loc, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Project: ProjectConfig{Region: "us-central1"},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  15 * time.Minute,
		},
		Buckets: BucketConfig{
			RawBars:    "marketbrief-raw-bars",
			ReportDocs: "marketbrief-report-docs",
		},
		Topics: TopicConfig{
			IngestCompleted: "ingest-completed",
			ReportsReady:    "reports-ready",
		},
		Queue: QueueConfig{
			Topic:        "report-jobs",
			Subscription: "report-jobs-workers",
			DeadLetter:   "report-jobs-dead-letter",
			MaxAttempts:  5,
			Workers:      4,
		},
		Scheduler: SchedulerConfig{
			// Weekdays shortly after the US close.
			CronExpression: "30 16 * * 1-5",
			Timezone:       defaultTimezone,
			location:       loc,
		},
		Market: MarketConfig{
			BaseURL:      "https://api.marketdata.example.com",
			FetchTimeout: 30 * time.Second,
			Parallelism:  8,
		},
		Synthesis: SynthesisConfig{
			Model:   "gemini-1.5-pro",
			Timeout: 90 * time.Second,
			BarDays: 30,
		},
		Render: RenderConfig{
			Timeout:     60 * time.Second,
			Parallelism: 4,
		},
		Query: QueryConfig{ListenAddr: ":8080"},
		Tickers: []TickerConfig{
			{Symbol: "AAPL", Name: "Apple Inc."},
			{Symbol: "MSFT", Name: "Microsoft Corporation"},
			{Symbol: "GOOGL", Name: "Alphabet Inc."},
		},
	}
}
