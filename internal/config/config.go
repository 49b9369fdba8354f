package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Limits struct {
	CooldownSeconds int `yaml:"cooldown_seconds"`
	Hourly          int `yaml:"hourly"`
	Daily           int `yaml:"daily"`
}

type Cache struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Store struct {
	Backend       string `yaml:"backend"` // "file" or "redis"
	RateLimitPath string `yaml:"rate_limit_path"`
	CachePath     string `yaml:"cache_path"`
	Redis         Redis  `yaml:"redis"`
}

type Pipeline struct {
	UpstreamURL   string  `yaml:"upstream_url"`
	TimeoutMS     int     `yaml:"timeout_ms"`
	ThrottleRPS   float64 `yaml:"throttle_rps"`
	ThrottleBurst int     `yaml:"throttle_burst"`
}

type Janitor struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Cache         Cache         `yaml:"cache"`
	Store         Store         `yaml:"store"`
	Pipeline      Pipeline      `yaml:"pipeline"`
	Janitor       Janitor       `yaml:"janitor"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 64 << 10
	}
	return s.MaxBodyBytes
} // default 64KB, requests are a single URL

func (l Limits) Cooldown() time.Duration {
	return time.Duration(l.CooldownSeconds) * time.Second
}

func (c Cache) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (p Pipeline) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

func (j Janitor) Interval() time.Duration {
	return time.Duration(j.IntervalMinutes) * time.Minute
}

// Load reads the YAML file at path (a missing file is fine, env and
// defaults still apply), layers environment overrides on top and fills in
// defaults.
func Load(path string) (*Root, error) {
	var cfg Root
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if cfg.Store.Backend != "file" && cfg.Store.Backend != "redis" {
		return nil, fmt.Errorf("store backend must be file or redis, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "redis" && cfg.Store.Redis.Addr == "" {
		return nil, fmt.Errorf("store backend redis requires a redis addr")
	}
	return &cfg, nil
}

func applyEnv(cfg *Root) error {
	if err := envInt("RATE_LIMIT_COOLDOWN_SECONDS", &cfg.Limits.CooldownSeconds); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_HOURLY", &cfg.Limits.Hourly); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_DAILY", &cfg.Limits.Daily); err != nil {
		return err
	}
	if err := envInt("CACHE_TTL_SECONDS", &cfg.Cache.TTLSeconds); err != nil {
		return err
	}
	envStr("RATE_LIMIT_STORE_PATH", &cfg.Store.RateLimitPath)
	envStr("CACHE_STORE_PATH", &cfg.Store.CachePath)
	envStr("STORE_BACKEND", &cfg.Store.Backend)
	envStr("REDIS_ADDR", &cfg.Store.Redis.Addr)
	envStr("UPSTREAM_URL", &cfg.Pipeline.UpstreamURL)
	return nil
}

func applyDefaults(cfg *Root) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Limits.CooldownSeconds <= 0 {
		cfg.Limits.CooldownSeconds = 60
	}
	if cfg.Limits.Hourly <= 0 {
		cfg.Limits.Hourly = 10
	}
	if cfg.Limits.Daily <= 0 {
		cfg.Limits.Daily = 25
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 24 * 3600
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.RateLimitPath == "" {
		cfg.Store.RateLimitPath = ".rate_limits"
	}
	if cfg.Store.CachePath == "" {
		cfg.Store.CachePath = ".cache"
	}
	if cfg.Pipeline.TimeoutMS <= 0 {
		cfg.Pipeline.TimeoutMS = 30000
	}
	if cfg.Pipeline.ThrottleRPS <= 0 {
		cfg.Pipeline.ThrottleRPS = 1
	}
	if cfg.Pipeline.ThrottleBurst <= 0 {
		cfg.Pipeline.ThrottleBurst = 3
	}
	if cfg.Janitor.IntervalMinutes <= 0 {
		cfg.Janitor.IntervalMinutes = 15
	}
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}
