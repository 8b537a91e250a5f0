package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided. A missing file at this
	// path is not an error.
	DefaultConfigPath = "processlens.yml"

	EnvAPIBase = "PROCESSLENS_API_BASE"
	EnvLogDir  = "PROCESSLENS_LOG_DIR"

	defaultAPIBase        = "http://localhost:8000"
	defaultQuery          = "Last week bottlenecks in P2P"
	defaultEmails         = "owner@company.com"
	defaultRequestTimeout = 2 * time.Minute
	defaultLogLevel       = "info"
)

// Config holds the console's startup configuration.
type Config struct {
	APIBase        string
	Port           int
	NoOpen         bool
	DefaultQuery   string
	DefaultEmails  string
	RequestTimeout time.Duration
	LogDir         string
	LogLevel       string
}

type rawConfig struct {
	APIBase        string  `yaml:"api_base"`
	Port           *int    `yaml:"port"`
	NoOpen         *bool   `yaml:"no_open"`
	DefaultQuery   *string `yaml:"default_query"`
	DefaultEmails  *string `yaml:"default_emails"`
	RequestTimeout string  `yaml:"request_timeout"`
	LogDir         string  `yaml:"log_dir"`
	LogLevel       string  `yaml:"log_level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		APIBase:        defaultAPIBase,
		DefaultQuery:   defaultQuery,
		DefaultEmails:  defaultEmails,
		RequestTimeout: defaultRequestTimeout,
		LogLevel:       defaultLogLevel,
	}
}

// Load reads configPath (or DefaultConfigPath), applies it over Default and then
// applies environment overrides.
func Load(configPath string) (*Config, error) {
	path := strings.TrimSpace(configPath)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	cfg := Default()
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw, err := decode(content)
		if err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
		if err := applyRaw(&cfg, raw); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	applyEnv(&cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 0-65535", c.Port)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("invalid request_timeout %s, expected >= 0", c.RequestTimeout)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q, expected debug|info|warn|error", c.LogLevel)
	}
	return nil
}

func decode(content []byte) (rawConfig, error) {
	raw := rawConfig{}
	if len(bytes.TrimSpace(content)) == 0 {
		return raw, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return raw, err
	}
	return raw, nil
}

func applyRaw(cfg *Config, raw rawConfig) error {
	if v := strings.TrimSpace(raw.APIBase); v != "" {
		cfg.APIBase = v
	}
	if raw.Port != nil {
		cfg.Port = *raw.Port
	}
	if raw.NoOpen != nil {
		cfg.NoOpen = *raw.NoOpen
	}
	if raw.DefaultQuery != nil {
		cfg.DefaultQuery = *raw.DefaultQuery
	}
	if raw.DefaultEmails != nil {
		cfg.DefaultEmails = *raw.DefaultEmails
	}
	if v := strings.TrimSpace(raw.RequestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid request_timeout %q: %w", v, err)
		}
		cfg.RequestTimeout = d
	}
	if v := strings.TrimSpace(raw.LogDir); v != "" {
		cfg.LogDir = v
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.APIBase = normalizeAPIBase(cfg.APIBase)
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIBase); ok && strings.TrimSpace(v) != "" {
		cfg.APIBase = normalizeAPIBase(v)
	}
	if v, ok := lookup(EnvLogDir); ok && strings.TrimSpace(v) != "" {
		cfg.LogDir = strings.TrimSpace(v)
	}
}

func normalizeAPIBase(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
