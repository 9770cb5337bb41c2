// Package config loads the sandbox service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"backtest-sandbox/services/arrowpipeline"
	"backtest-sandbox/services/engine"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		HTTPPort        int           `yaml:"http_port"`
		GRPCPort        int           `yaml:"grpc_port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Engine     EngineConfig     `yaml:"engine"`
	Arrow      ArrowConfig      `yaml:"arrow"`
	Cache      CacheConfig      `yaml:"cache"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Monitoring struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"monitoring"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type EngineConfig struct {
	Version            string  `yaml:"version"`
	MaxWorkers         int     `yaml:"max_workers"`
	MaxTimesteps       int     `yaml:"max_timesteps"`
	Warmup             int     `yaml:"warmup"`
	RSIPeriod          int     `yaml:"rsi_period"`
	VolatilityWindow   int     `yaml:"volatility_window"`
	ShortMA            int     `yaml:"short_ma"`
	LongMA             int     `yaml:"long_ma"`
	VolatilityMAWindow int     `yaml:"volatility_ma_window"`
	EnableEquality     bool    `yaml:"enable_equality"`
	EqualityTolerance  float64 `yaml:"equality_tolerance"`
}

// CatalogSpec maps the configured windows onto the signal catalog.
func (e EngineConfig) CatalogSpec() engine.CatalogSpec {
	return engine.CatalogSpec{
		RSIPeriod:          e.RSIPeriod,
		VolatilityWindow:   e.VolatilityWindow,
		ShortMA:            e.ShortMA,
		LongMA:             e.LongMA,
		VolatilityMAWindow: e.VolatilityMAWindow,
	}
}

// Workers resolves MaxWorkers, falling back to the CPU count.
func (e EngineConfig) Workers() int {
	if e.MaxWorkers > 0 {
		return e.MaxWorkers
	}
	return runtime.NumCPU()
}

type ArrowConfig struct {
	Compression string `yaml:"compression"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
}

type ClickHouseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Default is a runnable configuration needing no file.
func Default() *Config {
	c := &Config{Environment: "development"}
	c.Server.HTTPPort = 8080
	c.Server.GRPCPort = 9090
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Logging = LoggingConfig{Level: "info", Encoding: "json"}

	spec := engine.DefaultCatalogSpec()
	c.Engine = EngineConfig{
		Version:            "1.0.0",
		MaxTimesteps:       100000,
		Warmup:             engine.DefaultWarmup,
		RSIPeriod:          spec.RSIPeriod,
		VolatilityWindow:   spec.VolatilityWindow,
		ShortMA:            spec.ShortMA,
		LongMA:             spec.LongMA,
		VolatilityMAWindow: spec.VolatilityMAWindow,
		EqualityTolerance:  engine.DefaultEqualityTolerance,
	}
	c.Arrow.Compression = "none"

	c.Cache.Backend = "memory"
	c.Cache.TTL = time.Hour
	c.Cache.MaxEntries = 1000
	c.Cache.Redis.Addr = "localhost:6379"
	c.Cache.Redis.Prefix = "sandbox"

	c.ClickHouse = ClickHouseConfig{
		Addr:        "localhost:9000",
		Database:    "sandbox",
		Username:    "default",
		DialTimeout: 5 * time.Second,
	}
	c.Monitoring.Enabled = true
	c.Monitoring.Path = "/metrics"
	return c
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads path (or Default when empty) and applies SANDBOX_*
// environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("SANDBOX_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("SANDBOX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("SANDBOX_REDIS_ADDR"); v != "" {
		c.Cache.Backend = "redis"
		c.Cache.Redis.Addr = v
	}
	if v := getenv("SANDBOX_CLICKHOUSE_ADDR"); v != "" {
		c.ClickHouse.Enabled = true
		c.ClickHouse.Addr = v
	}
	ports := []struct {
		env string
		dst *int
	}{
		{"SANDBOX_HTTP_PORT", &c.Server.HTTPPort},
		{"SANDBOX_GRPC_PORT", &c.Server.GRPCPort},
	}
	for _, p := range ports {
		v := getenv(p.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", p.env, err)
		}
		*p.dst = n
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.HTTPPort <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		return fmt.Errorf("logging.encoding must be 'json' or 'console', got '%s'", c.Logging.Encoding)
	}
	if c.Engine.MaxTimesteps <= 0 {
		return fmt.Errorf("engine.max_timesteps must be positive")
	}
	if c.Engine.Warmup < 0 || c.Engine.MaxWorkers < 0 {
		return fmt.Errorf("engine.warmup and engine.max_workers cannot be negative")
	}
	windows := map[string]int{
		"rsi_period":           c.Engine.RSIPeriod,
		"volatility_window":    c.Engine.VolatilityWindow,
		"short_ma":             c.Engine.ShortMA,
		"long_ma":              c.Engine.LongMA,
		"volatility_ma_window": c.Engine.VolatilityMAWindow,
	}
	for name, w := range windows {
		if w < 0 {
			return fmt.Errorf("engine.%s cannot be negative", name)
		}
	}
	if c.Engine.EqualityTolerance < 0 {
		return fmt.Errorf("engine.equality_tolerance cannot be negative")
	}
	if !arrowpipeline.ValidCompression(c.Arrow.Compression) {
		return fmt.Errorf("arrow.compression must be 'none', 'lz4' or 'zstd', got '%s'", c.Arrow.Compression)
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.backend must be 'memory', 'redis' or 'none', got '%s'", c.Cache.Backend)
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Addr == "" {
		return fmt.Errorf("clickhouse.addr is required when clickhouse is enabled")
	}
	return nil
}

// NewLogger builds the zap logger described by the logging section.
func NewLogger(lc LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if lc.Encoding == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
