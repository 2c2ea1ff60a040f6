package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the proxy daemon configuration.
type Config struct {
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Origin struct {
		URL        string `yaml:"url"`
		Connection string `yaml:"connection"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"origin"`
	Cache struct {
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		TTL           string `yaml:"ttl"`
		MaxResponses  int    `yaml:"max_responses"`
		Disabled      bool   `yaml:"disabled"`
	} `yaml:"cache"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// defaultConfig returns the built-in defaults.
func defaultConfig() Config {
	var cfg Config
	cfg.Server.Listen = ":8080"
	cfg.Origin.Connection = "origin"
	cfg.Origin.Timeout = "30s"
	cfg.Cache.TTL = "5m"
	cfg.Cache.MaxResponses = 512
	cfg.Log.Level = "info"
	return cfg
}

// loadConfig builds the effective configuration: defaults first, then
// the YAML file when path is set, then environment overrides.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the file values.
func (c *Config) applyEnv() {
	c.Server.Listen = getEnv("LISTEN", c.Server.Listen)
	c.Origin.URL = getEnv("ORIGIN_URL", c.Origin.URL)
	c.Origin.Connection = getEnv("CONNECTION", c.Origin.Connection)
	c.Origin.Timeout = getEnv("ORIGIN_TIMEOUT", c.Origin.Timeout)
	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("REDIS_PASSWORD", c.Cache.RedisPassword)
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.RedisDB = n
		}
	}
	c.Cache.TTL = getEnv("CACHE_TTL", c.Cache.TTL)
	if v := os.Getenv("MAX_RESPONSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.MaxResponses = n
		}
	}
	if v := os.Getenv("CACHE_DISABLED"); v != "" {
		c.Cache.Disabled = v == "1" || strings.EqualFold(v, "true")
	}
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		c.Log.Pretty = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Origin.URL == "" {
		return fmt.Errorf("origin URL is required")
	}
	u, err := url.Parse(c.Origin.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin URL %q is not an absolute URL", c.Origin.URL)
	}

	if c.Origin.Connection == "" {
		return fmt.Errorf("connection name is required")
	}

	if _, err := c.GetTTL(); err != nil {
		return fmt.Errorf("invalid cache TTL format: %w", err)
	}

	if _, err := c.GetOriginTimeout(); err != nil {
		return fmt.Errorf("invalid origin timeout format: %w", err)
	}

	if c.Cache.MaxResponses < 0 {
		return fmt.Errorf("max_responses must not be negative, got %d", c.Cache.MaxResponses)
	}

	return nil
}

// GetTTL parses and returns the cache TTL duration.
func (c *Config) GetTTL() (time.Duration, error) {
	return time.ParseDuration(c.Cache.TTL)
}

// GetOriginTimeout parses and returns the origin request timeout.
func (c *Config) GetOriginTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Origin.Timeout)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
