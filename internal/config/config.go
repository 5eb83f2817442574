// Package config loads the process configuration in three layers: struct
// defaults, an optional yaml file, and environment variables on top. The
// bare DB_PATH / SMTP_* / PORT names of existing deployments keep working
// alongside the FUNDAWATCH_ prefixed form.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first hit is loaded.
var DefaultConfigPaths = []string{
	"fundawatch.yaml",
	"fundawatch.yml",
	"/etc/fundawatch/fundawatch.yaml",
}

// constrainedEnvVars signal a resource-constrained platform deployment.
var constrainedEnvVars = []string{
	"RAILWAY_ENVIRONMENT",
	"RAILWAY_PROJECT_ID",
	"RAILWAY_SERVICE_ID",
	"PORT",
}

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	Scraper   ScraperConfig   `koanf:"scraper"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	LogLevel  string          `koanf:"log_level"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	Port int    `koanf:"port"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
	StartTLS bool   `koanf:"starttls"`
}

type ScraperConfig struct {
	BaseURL      string        `koanf:"base_url"`
	RemoteChrome string        `koanf:"remote_chrome"`
	MaxRetries   int           `koanf:"max_retries"`
	PageTimeout  time.Duration `koanf:"page_timeout"`
	MaxRetained  int           `koanf:"max_retained"`
}

type SchedulerConfig struct {
	MaxConcurrent int           `koanf:"max_concurrent"`
	Floor         time.Duration `koanf:"floor"`
	Heartbeat     time.Duration `koanf:"heartbeat"`
}

// defaultConfig is layer one. Constrained deployments tighten the page
// timeout, the interval floor, and the heartbeat afterwards.
func defaultConfig() *Config {
	return &Config{
		Server:   ServerConfig{Addr: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Path: "./database.json"},
		SMTP: SMTPConfig{
			Port:     587,
			FromName: "Fundawatch",
			StartTLS: true,
		},
		Scraper: ScraperConfig{
			BaseURL:     "https://www.funda.nl",
			MaxRetries:  3,
			PageTimeout: 60 * time.Second,
			MaxRetained: 1000,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: 3,
			Floor:         time.Minute,
			Heartbeat:     0, // hourly on the hour
		},
		LogLevel: "info",
	}
}

// Constrained reports whether the process runs on a resource-constrained
// platform, detected from its injected environment variables.
func Constrained() bool {
	for _, name := range constrainedEnvVars {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// Load builds the configuration from defaults, an optional yaml file, and
// the environment. An explicit path skips the default search list.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if Constrained() {
		cfg.applyConstrained()
	}
	return cfg, nil
}

// applyConstrained tightens the knobs that matter on small instances.
func (c *Config) applyConstrained() {
	c.Scheduler.Floor = 30 * time.Minute
	if c.Scheduler.Heartbeat == 0 {
		c.Scheduler.Heartbeat = 30 * time.Second
	}
	if c.Scraper.PageTimeout > 30*time.Second {
		c.Scraper.PageTimeout = 30 * time.Second
	}
}

// ListenAddr is the HTTP bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

func findConfigFile() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// legacyEnvNames maps the bare variable names existing deployments inject
// onto koanf paths.
var legacyEnvNames = map[string]string{
	"DB_PATH":        "database.path",
	"PORT":           "server.port",
	"SMTP_HOST":      "smtp.host",
	"SMTP_PORT":      "smtp.port",
	"SMTP_USERNAME":  "smtp.username",
	"SMTP_USER":      "smtp.username",
	"SMTP_PASSWORD":  "smtp.password",
	"SMTP_FROM":      "smtp.from",
	"SMTP_FROM_NAME": "smtp.from_name",
	"LOG_LEVEL":      "log_level",
}

// envTransform maps environment variable names onto koanf paths:
// FUNDAWATCH_SMTP_HOST → smtp.host, FUNDAWATCH_SCHEDULER_MAX_CONCURRENT →
// scheduler.max_concurrent, plus the legacy bare names. Everything else is
// ignored.
func envTransform(name string) string {
	if path, ok := legacyEnvNames[name]; ok {
		return path
	}
	rest, ok := strings.CutPrefix(name, "FUNDAWATCH_")
	if !ok {
		return ""
	}
	rest = strings.ToLower(rest)
	for _, section := range []string{"server", "database", "smtp", "scraper", "scheduler"} {
		if after, ok := strings.CutPrefix(rest, section+"_"); ok {
			return section + "." + after
		}
	}
	return rest
}
