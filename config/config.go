// Package config provides configuration for the tailwind-serve server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects development or production behaviour.
type Mode int

const (
	// Development watches sources and serves with no-cache.
	Development Mode = iota
	// Production serves the startup build with long-lived caching.
	Production
)

// ParseMode maps the environment value to a Mode. Only "production" selects
// production; anything else, including "", is development.
func ParseMode(s string) Mode {
	if s == "production" {
		return Production
	}
	return Development
}

func (m Mode) String() string {
	if m == Production {
		return "production"
	}
	return "development"
}

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":7450").
	Listen string `yaml:"listen"`
	// Source is the stylesheet path, relative to Base unless absolute.
	Source string `yaml:"source"`
	// Base is the project root; the working directory when empty.
	Base string `yaml:"base"`
	// Route is the URL path the stylesheet is served at.
	Route string `yaml:"route"`
	// Debounce is the quiet period before a background rebuild.
	Debounce time.Duration `yaml:"debounce"`
	// HistoryPath is the SQLite database for build history.
	HistoryPath string `yaml:"history"`
	// LiveReload enables the websocket endpoint in development.
	LiveReload bool `yaml:"livereload"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
	// Version is the server version string.
	Version string `yaml:"-"`
	// Mode is resolved from TAILWIND_SERVE_ENV.
	Mode Mode `yaml:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Listen:      ":7450",
		Source:      "src/styles.css",
		Route:       "/styles.css",
		Debounce:    100 * time.Millisecond,
		HistoryPath: ":memory:",
		LiveReload:  true,
		Version:     "0.1.0",
	}
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// Load reads an optional YAML file over the defaults and then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = getEnv("TAILWIND_SERVE_LISTEN", cfg.Listen)
	cfg.Source = getEnv("TAILWIND_SERVE_SOURCE", cfg.Source)
	cfg.Base = getEnv("TAILWIND_SERVE_BASE", cfg.Base)
	cfg.Route = getEnv("TAILWIND_SERVE_ROUTE", cfg.Route)
	cfg.Debounce = getEnvDuration("TAILWIND_SERVE_DEBOUNCE", cfg.Debounce)
	cfg.HistoryPath = getEnv("TAILWIND_SERVE_HISTORY", cfg.HistoryPath)
	cfg.LiveReload = getEnvBool("TAILWIND_SERVE_LIVERELOAD", cfg.LiveReload)
	cfg.Debug = getEnvBool("TAILWIND_SERVE_DEBUG", cfg.Debug)
	cfg.Version = getEnv("TAILWIND_SERVE_VERSION", cfg.Version)
	cfg.Mode = ParseMode(os.Getenv("TAILWIND_SERVE_ENV"))
}

// HistoryLimit is the default page size for the builds endpoint, overridable
// with TAILWIND_SERVE_HISTORY_LIMIT.
func HistoryLimit() int {
	n := getEnvInt("TAILWIND_SERVE_HISTORY_LIMIT", 20)
	if n <= 0 {
		return 20
	}
	return n
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
