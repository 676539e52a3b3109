// Package config loads audit run configuration from defaults, a YAML file and
// FIRM_AUDIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "FIRM_AUDIT_"

// Config holds all settings for one audit run.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	Limit      int           `yaml:"limit"`
	Workers    int           `yaml:"workers"`
	PageSize   int           `yaml:"page_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	UserAgent  string        `yaml:"user_agent"`

	// Output is the missing-fields CSV path; empty picks a timestamped file
	// in the temp directory.
	Output string `yaml:"output"`

	// ErrorsOutput is an optional CSV path for firms that failed.
	ErrorsOutput string `yaml:"errors_output"`

	// RedisURL enables the shared response cache and rate-limit state.
	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// MetricsAddr serves /metrics while the run is in progress.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:    "https://gtixt.com",
		Workers:    10,
		PageSize:   500,
		Timeout:    20 * time.Second,
		MaxRetries: 3,
		UserAgent:  "gpti-audit/1.0",
		CacheTTL:   5 * time.Minute,
		LogLevel:   "info",
	}
}

// Load returns defaults overlaid with the YAML file at path (if any) and the
// process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		// An empty file keeps every current value
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays FIRM_AUDIT_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	setString := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	setString("BASE_URL", &c.BaseURL)
	setInt("LIMIT", &c.Limit)
	setInt("WORKERS", &c.Workers)
	setInt("PAGE_SIZE", &c.PageSize)
	setDuration("TIMEOUT", &c.Timeout)
	setInt("MAX_RETRIES", &c.MaxRetries)
	setString("USER_AGENT", &c.UserAgent)
	setString("OUTPUT", &c.Output)
	setString("ERRORS_OUTPUT", &c.ErrorsOutput)
	setString("REDIS_URL", &c.RedisURL)
	setDuration("CACHE_TTL", &c.CacheTTL)
	setString("METRICS_ADDR", &c.MetricsAddr)
	setString("LOG_LEVEL", &c.LogLevel)
	setBool("LOG_PRETTY", &c.LogPretty)

	return errors.Join(errs...)
}

// Validate checks the configuration for values the audit cannot run with.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.BaseURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("base url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("base url must be http or https (got %q)", c.BaseURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("base url has no host (got %q)", c.BaseURL))
	}

	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1 (got %d)", c.Workers))
	}
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page size must be >= 1 (got %d)", c.PageSize))
	}
	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must be >= 0 (got %d)", c.Limit))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive (got %s)", c.Timeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0 (got %d)", c.MaxRetries))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must be >= 0 (got %s)", c.CacheTTL))
	}

	return errors.Join(errs...)
}

// OutputPath returns Output, or a timestamped file in the temp directory.
func (c Config) OutputPath(start time.Time) string {
	if c.Output != "" {
		return c.Output
	}
	return DefaultOutputPath(start)
}

// DefaultOutputPath is missing_fields_<unix seconds>.csv in the temp directory.
func DefaultOutputPath(start time.Time) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("missing_fields_%d.csv", start.Unix()))
}
