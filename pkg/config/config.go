// Package config loads the client configuration from a YAML file with
// CHATSYNC_* environment overrides. Env wins over file, file wins over
// defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
		// Adapter selects the HTTP client: nethttp (default) or fasthttp.
		Adapter string `yaml:"adapter"`
	} `yaml:"backend"`

	Send struct {
		AckTimeoutMs int     `yaml:"ack_timeout_ms"`
		MaxRetries   int     `yaml:"max_retries"`
		RateRPS      float64 `yaml:"rate_rps"`
		RateBurst    int     `yaml:"rate_burst"`
	} `yaml:"send"`

	Conversation struct {
		HistoryLimit int `yaml:"history_limit"`
	} `yaml:"conversation"`

	Timeline struct {
		Cap int `yaml:"cap"`
	} `yaml:"timeline"`

	Queue struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"queue"`

	Cache struct {
		Path      string `yaml:"path"`
		Retention struct {
			Enabled bool   `yaml:"enabled"`
			Cron    string `yaml:"cron"`
			Period  string `yaml:"period"` // Go duration, e.g. 720h
		} `yaml:"retention"`
	} `yaml:"cache"`

	Log struct {
		Level string `yaml:"level"`
		Sink  string `yaml:"sink"`
		// ShipLevel is the minimum level forwarded to the backend over
		// the client-log topic; "off" disables shipping.
		ShipLevel string `yaml:"ship_level"`
	} `yaml:"log"`

	Debug struct {
		Addr string `yaml:"addr"`
	} `yaml:"debug"`
}

// Defaults mirrored by the zero config.
const (
	DefaultAckTimeoutMs = 1200
	DefaultMaxRetries   = 5
	DefaultHistoryLimit = 100
	DefaultTimelineCap  = 500
	DefaultQueueCap     = 1024
	DefaultDebugAddr    = "127.0.0.1:7333"
)

// Load reads the YAML file at path (optional, empty path skips the file)
// and applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHATSYNC_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_BACKEND_TOKEN"); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv("CHATSYNC_BACKEND_ADAPTER"); v != "" {
		c.Backend.Adapter = v
	}
	if v := os.Getenv("CHATSYNC_ACK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Send.AckTimeoutMs = n
		}
	}
	if v := os.Getenv("CHATSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Send.MaxRetries = n
		}
	}
	if v := os.Getenv("CHATSYNC_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Send.RateRPS = f
		}
	}
	if v := os.Getenv("CHATSYNC_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Send.RateBurst = n
		}
	}
	if v := os.Getenv("CHATSYNC_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Conversation.HistoryLimit = n
		}
	}
	if v := os.Getenv("CHATSYNC_TIMELINE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Timeline.Cap = n
		}
	}
	if v := os.Getenv("CHATSYNC_QUEUE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.Capacity = n
		}
	}
	if v := os.Getenv("CHATSYNC_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv("CHATSYNC_RETENTION_CRON"); v != "" {
		c.Cache.Retention.Cron = v
		c.Cache.Retention.Enabled = true
	}
	if v := os.Getenv("CHATSYNC_RETENTION_PERIOD"); v != "" {
		c.Cache.Retention.Period = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHATSYNC_LOG_SINK"); v != "" {
		c.Log.Sink = v
	}
	if v := os.Getenv("CHATSYNC_LOG_SHIP_LEVEL"); v != "" {
		c.Log.ShipLevel = v
	}
	if v := os.Getenv("CHATSYNC_DEBUG_ADDR"); v != "" {
		c.Debug.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Send.AckTimeoutMs <= 0 {
		c.Send.AckTimeoutMs = DefaultAckTimeoutMs
	}
	if c.Send.MaxRetries <= 0 {
		c.Send.MaxRetries = DefaultMaxRetries
	}
	if c.Conversation.HistoryLimit <= 0 {
		c.Conversation.HistoryLimit = DefaultHistoryLimit
	}
	if c.Timeline.Cap <= 0 {
		c.Timeline.Cap = DefaultTimelineCap
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = DefaultQueueCap
	}
	if c.Backend.Adapter == "" {
		c.Backend.Adapter = "nethttp"
	}
	if c.Debug.Addr == "" {
		c.Debug.Addr = DefaultDebugAddr
	}
	if c.Log.ShipLevel == "" {
		c.Log.ShipLevel = "warn"
	}
}

// Validate rejects values that would misbehave at runtime rather than at
// load time.
func (c *Config) Validate() error {
	switch c.Backend.Adapter {
	case "nethttp", "fasthttp":
	default:
		return fmt.Errorf("config: unknown backend adapter %q", c.Backend.Adapter)
	}
	switch c.Log.ShipLevel {
	case "debug", "info", "warn", "error", "off":
	default:
		return fmt.Errorf("config: unknown log ship level %q", c.Log.ShipLevel)
	}
	if c.Cache.Retention.Enabled {
		if c.Cache.Retention.Cron != "" && !gronx.IsValid(c.Cache.Retention.Cron) {
			return fmt.Errorf("config: invalid retention cron %q", c.Cache.Retention.Cron)
		}
		if _, err := c.RetentionPeriod(); err != nil {
			return err
		}
	}
	return nil
}

// AckTimeout returns the per-attempt ack wait as a duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Send.AckTimeoutMs) * time.Millisecond
}

// RetentionPeriod parses the configured idle threshold.
func (c *Config) RetentionPeriod() (time.Duration, error) {
	if c.Cache.Retention.Period == "" {
		return 0, fmt.Errorf("config: retention enabled without a period")
	}
	d, err := time.ParseDuration(c.Cache.Retention.Period)
	if err != nil {
		return 0, fmt.Errorf("config: retention period: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: retention period must be positive")
	}
	return d, nil
}
