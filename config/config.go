// Package config loads interpreter configuration from a YAML file and
// environment variables.
//
// Configuration can come from:
//   - Environment variables (recommended for containers)
//   - A YAML file
//   - Programmatic defaults
//
// Environment Variables:
//
//	FETCH_MAX_ROUNDS           - cap on interpreter rounds per run (default: 0, unlimited)
//	FETCH_CACHE_ENABLED        - sets Interpreter.CacheEnabled; not read by the interpreter (default: true)
//	FETCH_LOG_LEVEL            - debug, info, warn, error (default: info)
//	FETCH_TELEMETRY_ENABLED    - export OpenTelemetry spans/metrics per round (default: false)
//	FETCH_POOL_ENABLED         - reuse scratch containers across rounds (default: true)
//	FETCH_POOL_MAX_KEEP        - largest container size still pooled (default: 4096)
//	FETCH_FEATURE_JOIN_PREPLANNING  - sets Features.JoinPreplanning; not read by Join (default: true)
//	FETCH_FEATURE_CONCURRENT_ROUNDS - run distinct sources concurrently within a round (default: true)
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables for one interpreter deployment.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
type Config struct {
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Pool        PoolConfig        `yaml:"pool"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Features    FeatureFlags      `yaml:"features"`
}

// InterpreterConfig controls the round loop itself.
type InterpreterConfig struct {
	// MaxRounds bounds how many rounds one Run may take before failing
	// with an UnhandledException. Zero means unlimited.
	MaxRounds int `yaml:"max_rounds"`
	// CacheEnabled is loaded from YAML and FETCH_CACHE_ENABLED, but
	// fetch.OptionsFromConfig does not read it: the interpreter always
	// caches resolved values within a run, whatever this field says.
	CacheEnabled bool `yaml:"cache_enabled"`
	// DefaultTimeout is loaded from YAML only, and fetch.OptionsFromConfig
	// does not read it: an Async Query is bounded only by the timeout it
	// was built with.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// PoolConfig controls internal/bufpool's scratch-container reuse.
type PoolConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxKeep int  `yaml:"max_keep"`
}

// LoggingConfig controls internal/tracelog output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig controls whether rounds are reported via OpenTelemetry.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// FeatureFlags gates optional interpreter behaviors that can be turned
// off for debugging or gradual rollout without a code change.
type FeatureFlags struct {
	// JoinPreplanning is loaded from YAML and
	// FETCH_FEATURE_JOIN_PREPLANNING, but nothing reads it: Join always
	// pre-plans both sides' requests into one round, whatever this
	// field says.
	JoinPreplanning bool `yaml:"join_preplanning"`
	// ConcurrentRounds controls whether distinct sources within one
	// round are allowed to overlap (GoroutineEffect) or always run one
	// after another (SequentialEffect).
	ConcurrentRounds bool `yaml:"concurrent_rounds"`
}

// DefaultConfig returns a Config with conservative, production-shaped
// defaults: unlimited rounds, caching on, concurrent rounds on, info
// logging, telemetry off.
func DefaultConfig() *Config {
	return &Config{
		Interpreter: InterpreterConfig{
			MaxRounds:      0,
			CacheEnabled:   true,
			DefaultTimeout: 0,
		},
		Pool: PoolConfig{
			Enabled: true,
			MaxKeep: 4096,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
		Features: FeatureFlags{
			JoinPreplanning:  true,
			ConcurrentRounds: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOrDefault loads config from path, or returns DefaultConfig
// if the file cannot be read or parsed.
func LoadConfigOrDefault(path string) *Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// LoadFromEnv builds a Config from defaults overridden by environment
// variables, with no file involved.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	applyEnv(cfg)
	return cfg
}

// LoadFromEnvOrFile loads path (or defaults, if path is empty or
// unreadable) and then overrides the result with any environment
// variables that are set. Environment variables always win.
func LoadFromEnvOrFile(path string) *Config {
	var cfg *Config
	if path == "" {
		cfg = DefaultConfig()
	} else {
		cfg = LoadConfigOrDefault(path)
	}
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FETCH_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Interpreter.MaxRounds = n
		}
	}
	if v := os.Getenv("FETCH_CACHE_ENABLED"); v != "" {
		cfg.Interpreter.CacheEnabled = parseBool(v, cfg.Interpreter.CacheEnabled)
	}
	if v := os.Getenv("FETCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("FETCH_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = parseBool(v, cfg.Telemetry.Enabled)
	}
	if v := os.Getenv("FETCH_POOL_ENABLED"); v != "" {
		cfg.Pool.Enabled = parseBool(v, cfg.Pool.Enabled)
	}
	if v := os.Getenv("FETCH_POOL_MAX_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxKeep = n
		}
	}
	if v := os.Getenv("FETCH_FEATURE_JOIN_PREPLANNING"); v != "" {
		cfg.Features.JoinPreplanning = parseBool(v, cfg.Features.JoinPreplanning)
	}
	if v := os.Getenv("FETCH_FEATURE_CONCURRENT_ROUNDS"); v != "" {
		cfg.Features.ConcurrentRounds = parseBool(v, cfg.Features.ConcurrentRounds)
	}
}

func parseBool(s string, defaultVal bool) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultVal
	}
}

// Validate reports an error if cfg holds an inconsistent value, such as
// a negative round cap or an unrecognized log level.
func (c *Config) Validate() error {
	if c.Interpreter.MaxRounds < 0 {
		return &ValidationError{Field: "interpreter.max_rounds", Reason: "must be >= 0"}
	}
	if c.Pool.MaxKeep < 0 {
		return &ValidationError{Field: "pool.max_keep", Reason: "must be >= 0"}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "logging.level", Reason: "must be one of debug, info, warn, error"}
	}
	return nil
}

// ValidationError reports a single invalid Config field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}
