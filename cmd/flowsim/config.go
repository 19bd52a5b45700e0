package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowsim/internal/scheduler"
	"github.com/rendis/flowsim/pkg/schema"
)

// Config holds all flowsim configuration.
// Priority: flags > FLOWSIM_* env vars > flowsim.yaml > defaults.
type Config struct {
	Store     StoreConfig          `mapstructure:"store"`
	Log       LogConfig            `mapstructure:"log"`
	Engine    EngineConfig         `mapstructure:"engine"`
	Telemetry TelemetryConfig      `mapstructure:"telemetry"`
	Schedules []scheduler.Schedule `mapstructure:"schedules"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // libsql, postgres or memory
	DSN    string `mapstructure:"dsn"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// EngineConfig tunes simulation runs.
type EngineConfig struct {
	StepDelay       time.Duration `mapstructure:"step_delay"`
	UnknownOperator string        `mapstructure:"unknown_operator"` // open or closed
	Concurrency     int           `mapstructure:"concurrency"`
	StoreRetries    int           `mapstructure:"store_retries"` // attempts per log or status write
}

// TelemetryConfig enables OTLP/HTTP trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// Store drivers.
const (
	driverLibSQL   = "libsql"
	driverPostgres = "postgres"
	driverMemory   = "memory"
)

func flowsimDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowsim"
	}
	return filepath.Join(home, ".flowsim")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", driverLibSQL)
	v.SetDefault("store.dsn", filepath.Join(flowsimDir(), "flowsim.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("engine.step_delay", 0)
	v.SetDefault("engine.unknown_operator", "open")
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.store_retries", 3)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "flowsim")
}

// loadConfig reads configuration into a Config. When path is empty,
// flowsim.yaml is looked up in the working directory and ~/.flowsim and may
// be absent; an explicit path must exist.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("FLOWSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowsim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(flowsimDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, schema.NewError(schema.ErrCodeValidation, "read config").WithCause(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode config").WithCause(err)
	}
	if err := readSchedules(v.ConfigFileUsed(), &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readSchedules decodes the schedules section straight from the config file.
// Viper folds map keys to lower case, which would turn a schedule input such
// as documentsComplete into documentscomplete.
func readSchedules(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "read config").WithCause(err)
	}
	var doc struct {
		Schedules []scheduler.Schedule `yaml:"schedules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "decode config schedules").WithCause(err)
	}
	if doc.Schedules != nil {
		cfg.Schedules = doc.Schedules
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case driverLibSQL, driverPostgres:
		if c.Store.DSN == "" {
			return configError("store.dsn", "is required for driver %q", c.Store.Driver)
		}
	case driverMemory:
	default:
		return configError("store.driver", "must be libsql, postgres or memory, got %q", c.Store.Driver)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return configError("log.format", "must be text or json, got %q", c.Log.Format)
	}

	if c.Engine.StepDelay < 0 {
		return configError("engine.step_delay", "must not be negative")
	}
	switch c.Engine.UnknownOperator {
	case "open", "closed":
	default:
		return configError("engine.unknown_operator", "must be open or closed, got %q", c.Engine.UnknownOperator)
	}
	if c.Engine.Concurrency < 1 {
		return configError("engine.concurrency", "must be at least 1")
	}
	if c.Engine.StoreRetries < 1 {
		return configError("engine.store_retries", "must be at least 1")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return configError("telemetry.endpoint", "is required when telemetry is enabled")
	}
	return nil
}

func configError(key, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "config "+key+" "+format, args...).
		WithDetails(map[string]any{"key": key})
}
