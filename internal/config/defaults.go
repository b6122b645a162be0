package config

import (
	"errors"
	"fmt"
	"time"
)

// SourceConfig describes the remote book source.
type SourceConfig struct {
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host" yaml:"max_conns_per_host"`
}

// ExtractionConfig controls how pages are fetched, parsed, and scheduled.
type ExtractionConfig struct {
	ThreadThreshold       int           `mapstructure:"thread_threshold" yaml:"thread_threshold"`
	AsyncThreshold        int           `mapstructure:"async_threshold" yaml:"async_threshold"`
	MultiprocessThreshold int           `mapstructure:"multiprocess_threshold" yaml:"multiprocess_threshold"`
	WorkerCount           int           `mapstructure:"worker_count" yaml:"worker_count"`
	AsyncInFlight         int           `mapstructure:"async_in_flight" yaml:"async_in_flight"`
	MinShardPages         int           `mapstructure:"min_shard_pages" yaml:"min_shard_pages"`
	MaxAttempts           int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase           time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	ForceSequential       bool          `mapstructure:"force_sequential" yaml:"force_sequential"`
	UseFastParser         bool          `mapstructure:"use_fast_parser" yaml:"use_fast_parser"`
}

// StorageConfig controls batching and the on-disk database.
type StorageConfig struct {
	DatabasePath     string        `mapstructure:"database_path" yaml:"database_path"`
	BatchSize        int           `mapstructure:"batch_size" yaml:"batch_size"`
	CommitAttempts   int           `mapstructure:"commit_attempts" yaml:"commit_attempts"`
	CommitRetryDelay time.Duration `mapstructure:"commit_retry_delay" yaml:"commit_retry_delay"`
}

// Config is the full application configuration.
type Config struct {
	Source     SourceConfig     `mapstructure:"source" yaml:"source"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
}

// DefaultConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:         "https://shamela.ws",
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestsPerSec:  3.0,
			FetchTimeout:    30 * time.Second,
			MaxConnsPerHost: 30,
		},
		Extraction: ExtractionConfig{
			ThreadThreshold:       50,
			AsyncThreshold:        200,
			MultiprocessThreshold: 1000,
			WorkerCount:           4,
			AsyncInFlight:         15,
			MinShardPages:         100,
			MaxAttempts:           3,
			BackoffBase:           500 * time.Millisecond,
			ForceSequential:       false,
			UseFastParser:         true,
		},
		Storage: StorageConfig{
			DatabasePath:     "", // resolved against the maktaba home dir when empty
			BatchSize:        50,
			CommitAttempts:   3,
			CommitRetryDelay: time.Second,
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Source.BaseURL == "" {
		errs = append(errs, errors.New("source.base_url must be set"))
	}
	if c.Source.RequestsPerSec <= 0 {
		errs = append(errs, fmt.Errorf("source.requests_per_sec must be positive, got %v", c.Source.RequestsPerSec))
	}
	if c.Extraction.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("extraction.worker_count must be at least 1, got %d", c.Extraction.WorkerCount))
	}
	if c.Extraction.AsyncInFlight < 1 {
		errs = append(errs, fmt.Errorf("extraction.async_in_flight must be at least 1, got %d", c.Extraction.AsyncInFlight))
	}
	if c.Extraction.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("extraction.max_attempts must be at least 1, got %d", c.Extraction.MaxAttempts))
	}
	if c.Extraction.ThreadThreshold > c.Extraction.AsyncThreshold ||
		c.Extraction.AsyncThreshold > c.Extraction.MultiprocessThreshold {
		errs = append(errs, fmt.Errorf("extraction thresholds must be ordered thread <= async <= multiprocess, got %d/%d/%d",
			c.Extraction.ThreadThreshold, c.Extraction.AsyncThreshold, c.Extraction.MultiprocessThreshold))
	}
	if c.Storage.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("storage.batch_size must be at least 1, got %d", c.Storage.BatchSize))
	}
	if c.Storage.CommitAttempts < 1 {
		errs = append(errs, fmt.Errorf("storage.commit_attempts must be at least 1, got %d", c.Storage.CommitAttempts))
	}

	return errors.Join(errs...)
}
