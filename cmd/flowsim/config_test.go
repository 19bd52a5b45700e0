package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsim/pkg/schema"
)

// isolateConfig keeps the user's ~/.flowsim and FLOWSIM_* vars out of a test.
func isolateConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, "FLOWSIM_") {
			t.Setenv(key, "")
		}
	}
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateConfig(t)

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, driverLibSQL, cfg.Store.Driver)
	assert.Equal(t, filepath.Join(home, ".flowsim", "flowsim.db"), cfg.Store.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, time.Duration(0), cfg.Engine.StepDelay)
	assert.Equal(t, "open", cfg.Engine.UnknownOperator)
	assert.Equal(t, 4, cfg.Engine.Concurrency)
	assert.Equal(t, 3, cfg.Engine.StoreRetries)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
	assert.Empty(t, cfg.Schedules)
}

func TestLoadConfig_File(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "flowsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
log:
  level: debug
  format: json
engine:
  step_delay: 250ms
  unknown_operator: closed
  concurrency: 8
schedules:
  - name: nightly
    cron: "0 2 * * *"
    workflow_id: client-onboarding
    client_id: client-1
    input:
      documentsComplete: true
`), 0o644))

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, driverMemory, cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.StepDelay)
	assert.Equal(t, "closed", cfg.Engine.UnknownOperator)
	assert.Equal(t, 8, cfg.Engine.Concurrency)

	require.Len(t, cfg.Schedules, 1)
	sc := cfg.Schedules[0]
	assert.Equal(t, "nightly", sc.Name)
	assert.Equal(t, "0 2 * * *", sc.Cron)
	assert.Equal(t, "client-onboarding", sc.WorkflowID)
	assert.Equal(t, "client-1", sc.ClientID)
	assert.Equal(t, true, sc.Input["documentsComplete"])
}

func TestLoadConfig_ScheduleInputKeepsKeyCase(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "flowsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
schedules:
  - name: review
    cron: "@hourly"
    workflow_id: client-onboarding
    client_id: client-1
    input:
      riskScore: 72
      kycResult:
        documentType: passport
`), 0o644))

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	require.Len(t, cfg.Schedules, 1)

	input := cfg.Schedules[0].Input
	assert.Equal(t, 72, input["riskScore"])
	assert.NotContains(t, input, "riskscore")
	nested, ok := input["kycResult"].(map[string]any)
	require.True(t, ok, "kycResult should decode as a map, got %T", input["kycResult"])
	assert.Equal(t, "passport", nested["documentType"])
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "flowsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\nengine:\n  concurrency: 2\n"), 0o644))
	t.Setenv("FLOWSIM_ENGINE_CONCURRENCY", "6")
	t.Setenv("FLOWSIM_LOG_LEVEL", "warn")

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Engine.Concurrency)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, driverMemory, cfg.Store.Driver)
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	isolateConfig(t)
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:  StoreConfig{Driver: driverLibSQL, DSN: "file:x.db"},
			Log:    LogConfig{Level: "info", Format: "text"},
			Engine: EngineConfig{UnknownOperator: "open", Concurrency: 1, StoreRetries: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"valid", func(*Config) {}, ""},
		{"memory needs no dsn", func(c *Config) { c.Store = StoreConfig{Driver: driverMemory} }, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store = StoreConfig{Driver: driverPostgres} }, "store.dsn"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative delay", func(c *Config) { c.Engine.StepDelay = -time.Second }, "engine.step_delay"},
		{"bad operator policy", func(c *Config) { c.Engine.UnknownOperator = "maybe" }, "engine.unknown_operator"},
		{"zero concurrency", func(c *Config) { c.Engine.Concurrency = 0 }, "engine.concurrency"},
		{"zero store retries", func(c *Config) { c.Engine.StoreRetries = 0 }, "engine.store_retries"},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry = TelemetryConfig{Enabled: true} }, "telemetry.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.key == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var fe *schema.FlowError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, schema.ErrCodeValidation, fe.Code)
			assert.Equal(t, tt.key, fe.Details["key"])
		})
	}
}

func TestInitTracer_Disabled(t *testing.T) {
	tp, shutdown, err := initTracer(context.Background(), TelemetryConfig{})
	require.NoError(t, err)
	assert.Nil(t, tp)
	assert.NoError(t, shutdown(context.Background()))
}
