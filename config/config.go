package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds search, transport and export configuration.
type Config struct {
	SearchHost      string        `yaml:"search_host"`
	Platform        string        `yaml:"platform"`
	Password        string        `yaml:"password"`
	ResultLimit     int           `yaml:"result_limit"`
	MinQueryLength  int           `yaml:"min_query_length"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	UserAgent       string        `yaml:"user_agent"`

	ClientIP    string        `yaml:"client_ip"` // static override; skips the lookup
	IPLookupURL string        `yaml:"ip_lookup_url"`
	IPCacheTTL  time.Duration `yaml:"ip_cache_ttl"`

	Parallelism   int    `yaml:"parallelism"`
	BatchSize     int    `yaml:"batch_size"`
	DedupeMaxSize int    `yaml:"dedupe_max_size"`
	OutputFile    string `yaml:"output_file"`
	OutputFormat  string `yaml:"output_format"` // csv, json, parquet, or dual

	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	HistoryDB   string `yaml:"history_db"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns defaults matching the public eurobuch endpoint.
func DefaultConfig() *Config {
	return &Config{
		SearchHost:      "https://www.eurobuch.de",
		ResultLimit:     10,
		MinQueryLength:  2,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		UserAgent:       "go-eurobuch/1.0 (+https://github.com/aluiziolira/go-eurobuch)",
		IPLookupURL:     "https://api.ipify.org?format=text",
		IPCacheTTL:      10 * time.Minute,
		Parallelism:     4,
		BatchSize:       64,
		DedupeMaxSize:   100000,
		OutputFile:      "output/offers.csv",
		OutputFormat:    "csv",
		ListenAddr:      ":8080",
		HistoryDB:       "history.db",
	}
}

// HasCredentials reports whether both platform ID and password are set.
func (c *Config) HasCredentials() bool {
	return c.Platform != "" && c.Password != ""
}

// Validate ensures all configuration values are coherent.
// Credentials are checked at search time so credential-free commands still run.
func (c *Config) Validate() error {
	if c.SearchHost == "" {
		return fmt.Errorf("search host cannot be empty")
	}

	parsedURL, err := url.Parse(c.SearchHost)
	if err != nil {
		return fmt.Errorf("invalid search host: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("search host must include a host")
	}

	if c.ResultLimit <= 0 {
		return fmt.Errorf("result limit must be positive")
	}
	if c.MinQueryLength < 0 {
		return fmt.Errorf("min query length cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.ClientIP == "" && c.IPLookupURL == "" {
		return fmt.Errorf("either client IP or IP lookup URL must be set")
	}
	if c.IPCacheTTL < 0 {
		return fmt.Errorf("ip cache ttl cannot be negative")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "parquet", "dual":
	default:
		return fmt.Errorf("output format must be csv, json, parquet, or dual")
	}

	return nil
}
