// Package config loads gowork settings from YAML with environment overrides
// and turns them into component configurations.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
	"github.com/vnykmshr/gowork/pkg/common/validation"
	"github.com/vnykmshr/gowork/pkg/scheduling/workengine"
	"github.com/vnykmshr/gowork/pkg/scheduling/workerpool"
)

// EnvPrefix prefixes every environment override, e.g. GOWORK_ENGINE_WORKERS.
const EnvPrefix = "GOWORK"

// Config is the file layout.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Redis   RedisConfig   `yaml:"redis"`
}

// EngineConfig sizes the work engine and its pool.
type EngineConfig struct {
	Name                 string        `yaml:"name"`
	Workers              int           `yaml:"workers"`
	QueueSize            int           `yaml:"queue_size"`
	ExhaustedAction      string        `yaml:"exhausted_action"`
	WaitTimeout          time.Duration `yaml:"wait_timeout"`
	GracefulShutdown     time.Duration `yaml:"graceful_shutdown"`
	StartTimeout         time.Duration `yaml:"start_timeout"`
	TimeoutCheckInterval time.Duration `yaml:"timeout_check_interval"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RedisConfig enables the Redis stream sink.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Stream  string `yaml:"stream"`
	MaxLen  int64  `yaml:"max_len"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	profile := workerpool.DefaultProfile()
	return Config{
		Engine: EngineConfig{
			Name:                 "gowork",
			Workers:              profile.MaxWorkers,
			QueueSize:            profile.QueueSize,
			ExhaustedAction:      profile.ExhaustedAction.String(),
			GracefulShutdown:     workengine.DefaultGracefulShutdown,
			TimeoutCheckInterval: workengine.DefaultTimeoutCheckInterval,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9090"},
		Redis:   RedisConfig{Addr: "localhost:6379", Stream: "gowork:events"},
	}
}

// Load reads path over the defaults, applies GOWORK_* environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 -- the path comes from the operator.
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal YAML %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return cfg, cfg.Validate()
}

type override struct {
	key string
	set func(c *Config, v string) error
}

var overrides = []override{
	{"ENGINE_NAME", func(c *Config, v string) error { c.Engine.Name = v; return nil }},
	{"ENGINE_WORKERS", intField(func(c *Config) *int { return &c.Engine.Workers })},
	{"ENGINE_QUEUE_SIZE", intField(func(c *Config) *int { return &c.Engine.QueueSize })},
	{"ENGINE_EXHAUSTED_ACTION", func(c *Config, v string) error { c.Engine.ExhaustedAction = v; return nil }},
	{"ENGINE_WAIT_TIMEOUT", durationField(func(c *Config) *time.Duration { return &c.Engine.WaitTimeout })},
	{"ENGINE_GRACEFUL_SHUTDOWN", durationField(func(c *Config) *time.Duration { return &c.Engine.GracefulShutdown })},
	{"ENGINE_START_TIMEOUT", durationField(func(c *Config) *time.Duration { return &c.Engine.StartTimeout })},
	{"ENGINE_TIMEOUT_CHECK_INTERVAL", durationField(func(c *Config) *time.Duration { return &c.Engine.TimeoutCheckInterval })},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
	{"METRICS_ENABLED", boolField(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"METRICS_ADDR", func(c *Config, v string) error { c.Metrics.Addr = v; return nil }},
	{"REDIS_ENABLED", boolField(func(c *Config) *bool { return &c.Redis.Enabled })},
	{"REDIS_ADDR", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"REDIS_STREAM", func(c *Config, v string) error { c.Redis.Stream = v; return nil }},
	{"REDIS_MAX_LEN", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Redis.MaxLen = n
		return nil
	}},
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func durationField(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func boolField(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// ApplyEnv overrides cfg from GOWORK_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range overrides {
		key := EnvPrefix + "_" + o.key
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.set(cfg, strings.TrimSpace(v)); err != nil {
			return gferrors.NewValidationError("config", key, v, err.Error())
		}
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return gferrors.NewValidationError("config", "logging.format", c.Logging.Format, "unknown format").
			WithHint("use text or json")
	}
	if c.Metrics.Enabled {
		if err := validation.ValidateNotEmpty("config", "metrics.addr", c.Metrics.Addr); err != nil {
			return err
		}
	}
	if c.Redis.Enabled {
		if err := validation.ValidateNotEmpty("config", "redis.addr", c.Redis.Addr); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the engine section.
func (e EngineConfig) Validate() error {
	if err := validation.ValidatePositive("config", "engine.workers", e.Workers); err != nil {
		return err
	}
	if e.QueueSize < 0 {
		return gferrors.NewValidationError("config", "engine.queue_size", e.QueueSize, "cannot be negative")
	}
	if _, err := workerpool.ParseExhaustedAction(e.ExhaustedAction); err != nil {
		return err
	}
	for field, d := range map[string]time.Duration{
		"engine.wait_timeout":           e.WaitTimeout,
		"engine.graceful_shutdown":      e.GracefulShutdown,
		"engine.timeout_check_interval": e.TimeoutCheckInterval,
	} {
		if err := validation.ValidateNonNegativeDuration("config", field, d); err != nil {
			return err
		}
	}
	if e.StartTimeout < 0 && e.StartTimeout != workengine.IndefiniteTimeout {
		return gferrors.NewValidationError("config", "engine.start_timeout", e.StartTimeout, "cannot be negative")
	}
	return nil
}

// Profile returns the pool profile of the engine section.
func (e EngineConfig) Profile() (workerpool.Profile, error) {
	action, err := workerpool.ParseExhaustedAction(e.ExhaustedAction)
	if err != nil {
		return workerpool.Profile{}, err
	}
	return workerpool.Profile{
		MaxWorkers:      e.Workers,
		QueueSize:       e.QueueSize,
		ExhaustedAction: action,
		WaitTimeout:     e.WaitTimeout,
	}, nil
}

// WorkEngineConfig converts the engine section. Logger, listener, metrics
// and context provider are left for the caller.
func (e EngineConfig) WorkEngineConfig() (workengine.Config, error) {
	if err := e.Validate(); err != nil {
		return workengine.Config{}, err
	}
	profile, err := e.Profile()
	if err != nil {
		return workengine.Config{}, err
	}
	return workengine.Config{
		Name:                 e.Name,
		Profile:              profile,
		GracefulShutdown:     e.GracefulShutdown,
		StartTimeout:         e.StartTimeout,
		TimeoutCheckInterval: e.TimeoutCheckInterval,
	}, nil
}
