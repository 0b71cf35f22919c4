// Package config loads service configuration: built-in defaults, an optional
// YAML overlay (CONFIG_FILE), then environment variables, in that order of
// precedence (env wins).
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Upstream exchange endpoints
	RESTBase string `yaml:"rest_base"`
	WSURL    string `yaml:"ws_url"`

	// Downstream surfaces
	BindAddr    string `yaml:"bind_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Persistence
	RedisURL   string `yaml:"redis_url"`
	SQLitePath string `yaml:"sqlite_path"` // empty disables the archive

	// Tunables
	QuoteCoin        string        `yaml:"quote_coin"`
	TopicsPerConn    int           `yaml:"topics_per_conn"`
	ColdStartWorkers int           `yaml:"cold_start_workers"`
	Debounce         time.Duration `yaml:"debounce"`
	IndexPoll        time.Duration `yaml:"index_poll"`
}

// Load reads configuration with sensible defaults, an optional YAML file
// named by CONFIG_FILE, and environment variable overrides.
func Load() *Config {
	cfg := &Config{
		RESTBase:         "https://api.bybit.com",
		WSURL:            "wss://stream.bybit.com/v5/public/linear",
		BindAddr:         "0.0.0.0:8765",
		MetricsAddr:      ":9090",
		RedisURL:         "redis://localhost:7000/0",
		SQLitePath:       "",
		QuoteCoin:        "USDT",
		TopicsPerConn:    200,
		ColdStartWorkers: 10,
		Debounce:         200 * time.Millisecond,
		IndexPoll:        time.Minute,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			log.Fatalf("[config] %v", err)
		}
	}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	log.Printf("[config] loaded overrides from %s", path)
	return nil
}

func (c *Config) applyEnv() {
	c.RESTBase = getEnv("REST_BASE", c.RESTBase)
	c.WSURL = getEnv("WS_URL", c.WSURL)
	c.BindAddr = getEnv("BIND_ADDR", c.BindAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.QuoteCoin = getEnv("QUOTE_COIN", c.QuoteCoin)
	c.TopicsPerConn = getEnvInt("TOPICS_PER_CONN", c.TopicsPerConn)
	c.ColdStartWorkers = getEnvInt("COLD_START_WORKERS", c.ColdStartWorkers)
	c.Debounce = getEnvDuration("DEBOUNCE", c.Debounce)
	c.IndexPoll = getEnvDuration("INDEX_POLL", c.IndexPoll)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return d
}
