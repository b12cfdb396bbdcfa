package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kyleparry1/givenergy-data-downloader/internal/progress"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "config.json"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FETCHDATA_"

// ErrInvalid matches every configuration error.
var ErrInvalid = errors.New("config: invalid configuration")

// Error describes a missing, unreadable or invalid setting.
type Error struct {
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := "config: " + e.Field + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalid}
	}
	return []error{ErrInvalid, e.Err}
}

func invalid(field, reason string) *Error {
	return &Error{Field: field, Reason: reason}
}

// Config defines configuration for the fetchdata CLI.
type Config struct {
	BaseURL         string            `yaml:"base_url"`
	Headers         map[string]string `yaml:"headers"`
	Cookies         map[string]string `yaml:"cookies"`
	DataDir         string            `yaml:"data_dir"`
	Workers         int               `yaml:"workers"`
	MaxAttempts     int               `yaml:"max_attempts"`
	Timeout         time.Duration     `yaml:"timeout"`
	Retry           RetryConfig       `yaml:"retry"`
	RateLimit       float64           `yaml:"rate_limit"`
	RateBurst       int               `yaml:"rate_burst"`
	MaxResponseSize int64             `yaml:"max_response_size"`
	Log             LogConfig         `yaml:"log"`
	Journal         string            `yaml:"journal"`
	Progress        bool              `yaml:"progress"`
}

// RetryConfig defines the wait between attempts of one date.
type RetryConfig struct {
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// LogConfig defines where logs go.
type LogConfig struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults. The endpoint, headers
// and cookies have no defaults.
func Default() Config {
	return Config{
		DataDir:         "data",
		Workers:         5,
		MaxAttempts:     3,
		Timeout:         30 * time.Second,
		RateBurst:       1,
		MaxResponseSize: 256 * 1024 * 1024, // 256MiB
		Retry: RetryConfig{
			MaxBackoff: 30 * time.Second,
		},
		Log: LogConfig{
			File:   "data_fetch.log",
			Level:  "info",
			Format: "text",
		},
	}
}

// fileConfig is used for unmarshaling with string durations and sizes.
type fileConfig struct {
	BaseURL         string            `yaml:"base_url"`
	Headers         map[string]string `yaml:"headers"`
	Cookies         map[string]string `yaml:"cookies"`
	DataDir         string            `yaml:"data_dir"`
	Workers         int               `yaml:"workers"`
	MaxAttempts     int               `yaml:"max_attempts"`
	Timeout         string            `yaml:"timeout"`
	Retry           fileRetryConfig   `yaml:"retry"`
	RateLimit       float64           `yaml:"rate_limit"`
	RateBurst       int               `yaml:"rate_burst"`
	MaxResponseSize string            `yaml:"max_response_size"`
	Log             LogConfig         `yaml:"log"`
	Journal         string            `yaml:"journal"`
	Progress        bool              `yaml:"progress"`
}

type fileRetryConfig struct {
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a JSON or YAML file on top of
// Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Field: "file", Reason: "read " + path, Err: err}
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, &Error{Field: "file", Reason: "parse " + path, Err: err}
	}

	cfg := Default()

	if fc.BaseURL != "" {
		cfg.BaseURL = fc.BaseURL
	}
	cfg.Headers = fc.Headers
	cfg.Cookies = fc.Cookies
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.Workers != 0 {
		cfg.Workers = fc.Workers
	}
	if fc.MaxAttempts != 0 {
		cfg.MaxAttempts = fc.MaxAttempts
	}
	if fc.Timeout != "" {
		d, err := parseDuration("timeout", fc.Timeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Timeout = d
	}
	if fc.Retry.Backoff != "" {
		d, err := parseDuration("retry.backoff", fc.Retry.Backoff)
		if err != nil {
			return Config{}, err
		}
		cfg.Retry.Backoff = d
	}
	if fc.Retry.MaxBackoff != "" {
		d, err := parseDuration("retry.max_backoff", fc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, err
		}
		cfg.Retry.MaxBackoff = d
	}
	if fc.RateLimit != 0 {
		cfg.RateLimit = fc.RateLimit
	}
	if fc.RateBurst != 0 {
		cfg.RateBurst = fc.RateBurst
	}
	if fc.MaxResponseSize != "" {
		size, err := parseSize("max_response_size", fc.MaxResponseSize)
		if err != nil {
			return Config{}, err
		}
		cfg.MaxResponseSize = size
	}
	if fc.Log.File != "" {
		cfg.Log.File = fc.Log.File
	}
	if fc.Log.Level != "" {
		cfg.Log.Level = fc.Log.Level
	}
	if fc.Log.Format != "" {
		cfg.Log.Format = fc.Log.Format
	}
	cfg.Journal = fc.Journal
	cfg.Progress = fc.Progress

	return cfg, nil
}

func parseDuration(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &Error{Field: field, Reason: "parse duration", Err: err}
	}
	return d, nil
}

func parseSize(field, v string) (int64, error) {
	size, err := progress.ParseBytes(v)
	if err != nil {
		return 0, &Error{Field: field, Reason: "parse size", Err: err}
	}
	return size, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FETCHDATA_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvPrefix + "BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: EnvPrefix + "WORKERS", Reason: "parse integer", Err: err}
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvPrefix + "MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: EnvPrefix + "MAX_ATTEMPTS", Reason: "parse integer", Err: err}
		}
		c.MaxAttempts = n
	}
	if v := os.Getenv(EnvPrefix + "TIMEOUT"); v != "" {
		d, err := parseDuration(EnvPrefix+"TIMEOUT", v)
		if err != nil {
			return err
		}
		c.Timeout = d
	}
	if v := os.Getenv(EnvPrefix + "RETRY_BACKOFF"); v != "" {
		d, err := parseDuration(EnvPrefix+"RETRY_BACKOFF", v)
		if err != nil {
			return err
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv(EnvPrefix + "RETRY_MAX_BACKOFF"); v != "" {
		d, err := parseDuration(EnvPrefix+"RETRY_MAX_BACKOFF", v)
		if err != nil {
			return err
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv(EnvPrefix + "RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &Error{Field: EnvPrefix + "RATE_LIMIT", Reason: "parse number", Err: err}
		}
		c.RateLimit = f
	}
	if v := os.Getenv(EnvPrefix + "RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: EnvPrefix + "RATE_BURST", Reason: "parse integer", Err: err}
		}
		c.RateBurst = n
	}
	if v := os.Getenv(EnvPrefix + "MAX_RESPONSE_SIZE"); v != "" {
		size, err := parseSize(EnvPrefix+"MAX_RESPONSE_SIZE", v)
		if err != nil {
			return err
		}
		c.MaxResponseSize = size
	}
	if v := os.Getenv(EnvPrefix + "JOURNAL"); v != "" {
		c.Journal = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(EnvPrefix + "PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return invalid("base_url", "is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return &Error{Field: "base_url", Reason: "parse", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("base_url", "must be an absolute http or https URL")
	}
	if len(c.Headers) == 0 {
		return invalid("headers", "is required")
	}
	if len(c.Cookies) == 0 {
		return invalid("cookies", "is required")
	}
	if c.DataDir == "" {
		return invalid("data_dir", "is required")
	}
	if c.Workers <= 0 {
		return invalid("workers", "must be positive")
	}
	if c.MaxAttempts <= 0 {
		return invalid("max_attempts", "must be positive")
	}
	if c.Timeout <= 0 {
		return invalid("timeout", "must be positive")
	}
	if c.Retry.Backoff < 0 {
		return invalid("retry.backoff", "must not be negative")
	}
	if c.Retry.MaxBackoff <= 0 {
		return invalid("retry.max_backoff", "must be positive")
	}
	if c.RateLimit < 0 {
		return invalid("rate_limit", "must not be negative")
	}
	if c.RateBurst <= 0 {
		return invalid("rate_burst", "must be positive")
	}
	if c.MaxResponseSize <= 0 {
		return invalid("max_response_size", "must be positive")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.BaseURL != "" {
		c.BaseURL = override.BaseURL
	}
	if len(override.Headers) > 0 {
		c.Headers = override.Headers
	}
	if len(override.Cookies) > 0 {
		c.Cookies = override.Cookies
	}
	if override.DataDir != "" {
		c.DataDir = override.DataDir
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.MaxAttempts != 0 {
		c.MaxAttempts = override.MaxAttempts
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.RateLimit != 0 {
		c.RateLimit = override.RateLimit
	}
	if override.RateBurst != 0 {
		c.RateBurst = override.RateBurst
	}
	if override.MaxResponseSize != 0 {
		c.MaxResponseSize = override.MaxResponseSize
	}
	if override.Log.File != "" {
		c.Log.File = override.Log.File
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Journal != "" {
		c.Journal = override.Journal
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	return c
}

// Redacted returns a copy safe to log, with header and cookie values masked.
func (c Config) Redacted() Config {
	mask := func(m map[string]string) map[string]string {
		if m == nil {
			return nil
		}
		out := make(map[string]string, len(m))
		for k := range m {
			out[k] = "***"
		}
		return out
	}
	c.Headers = mask(c.Headers)
	c.Cookies = mask(c.Cookies)
	return c
}

// String implements fmt.Stringer for debug logs.
func (c Config) String() string {
	r := c.Redacted()
	return fmt.Sprintf("base_url=%s data_dir=%s workers=%d max_attempts=%d timeout=%s headers=%v cookies=%v",
		r.BaseURL, r.DataDir, r.Workers, r.MaxAttempts, r.Timeout, r.Headers, r.Cookies)
}
