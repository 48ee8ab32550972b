package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/heatnet-simulator/core"
)

func noEnv(string) (string, bool) { return "", false }

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("network: net.yaml\ntick: 30s\n"))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "net.yaml", cfg.Network)
	assert.Equal(t, 30*time.Second, cfg.Tick)
	assert.Equal(t, def.Duration, cfg.Duration)
	assert.Equal(t, def.Hydraulics, cfg.Hydraulics)
	assert.Equal(t, int32(2), cfg.Output.Precision)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestParseFullDocument(t *testing.T) {
	doc := `
network: flexheat_network.yaml
start: 2019-02-01T00:00:00Z
duration: 2h
tick: 5m
accelerated: false
engine:
  specific_heat: 4200
  history_retention: 1h
hydraulics:
  max_iterations: 50
  damping: 0.5
  log_mode: all
inputs:
  constant:
    T_supply_grid: 75
    bypass_open: 1
  profiles:
    - file: load.csv
      scale: 0.001
      columns:
        consumer1: Qdot_cons1
output:
  jsonlines: out.jsonl
  precision: 3
  redis:
    addr: localhost:6379
    max_len: 1000
tracing:
  enabled: true
  exporter: otlp
  endpoint: collector:4317
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC), cfg.Start.UTC())
	assert.Equal(t, 2*time.Hour, cfg.Duration)
	assert.False(t, cfg.Accelerated)
	assert.Equal(t, 4200.0, cfg.Engine.SpecificHeat)
	assert.Equal(t, time.Hour, cfg.Engine.HistoryRetention)
	assert.Equal(t, 50, cfg.Hydraulics.MaxIterations)
	assert.Equal(t, core.LogModeAll, cfg.Hydraulics.LogMode)
	// Untouched keys in a section keep their defaults.
	assert.Equal(t, Default().Hydraulics.Tolerance, cfg.Hydraulics.Tolerance)
	assert.Equal(t, 75.0, cfg.Inputs.Constant["T_supply_grid"])
	require.Len(t, cfg.Inputs.Profiles, 1)
	assert.Equal(t, "Qdot_cons1", cfg.Inputs.Profiles[0].Columns["consumer1"])
	assert.Equal(t, 0.001, cfg.Inputs.Profiles[0].Scale)
	assert.Equal(t, int64(1000), cfg.Output.Redis.MaxLen)
	assert.Equal(t, "heatnet:steps", cfg.Output.Redis.Stream)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Len(t, cfg.EngineOptions(), 4)

	solver := cfg.HydraulicSolverConfig()
	assert.Equal(t, 0.5, solver.Damping)
	assert.Equal(t, core.LogModeAll, cfg.HydraulicInterfaceConfig().LogMode)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("network: a.yaml\nticks: 5m\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticks")
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("network: a.yaml\ntick: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"missing network": func(c *Config) { c.Network = "" },
		"zero tick":       func(c *Config) { c.Tick = 0 },
		"negative run":    func(c *Config) { c.Duration = -time.Second },
		"bad cp":          func(c *Config) { c.Engine.SpecificHeat = 0 },
		"bad damping":     func(c *Config) { c.Hydraulics.Damping = 1.5 },
		"bad log mode":    func(c *Config) { c.Hydraulics.LogMode = "verbose" },
		"bad precision":   func(c *Config) { c.Output.Precision = -1 },
		"profile no file": func(c *Config) {
			c.Inputs.Profiles = []ProfileConfig{{Columns: map[string]string{"a": "b"}}}
		},
		"bad exporter": func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Network = "net.yaml"
			require.NoError(t, cfg.Validate())
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"HEATNET_LOG_LEVEL":       "debug",
		"HEATNET_METRICS_ADDR":    "",
		"HEATNET_REDIS_ADDR":      "redis:6379",
		"HEATNET_TRACING_ENABLED": "true",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "", cfg.MetricsAddr, "an empty address disables the metrics server")
	assert.Equal(t, "redis:6379", cfg.Output.Redis.Addr)
	assert.True(t, cfg.Tracing.Enabled)

	cfg = Default()
	cfg.ApplyEnv(noEnv)
	assert.Equal(t, Default(), cfg)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	doc := "network: net.yaml\noutput:\n  jsonlines: /tmp/abs.jsonl\ninputs:\n  profiles:\n    - file: p/load.csv\n      columns: {a: b}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("HEATNET_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "net.yaml"), cfg.Network)
	assert.Equal(t, "/tmp/abs.jsonl", cfg.Output.JSONLines)
	assert.Equal(t, filepath.Join(dir, "p", "load.csv"), cfg.Inputs.Profiles[0].File)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadBundledRunConfig(t *testing.T) {
	cfg, err := Load("../../configs/heatnet.yaml")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Tick)
	assert.Equal(t, 24*time.Hour, cfg.Duration)
	assert.FileExists(t, cfg.Network)
	require.Len(t, cfg.Inputs.Profiles, 1)
	assert.FileExists(t, cfg.Inputs.Profiles[0].File)
}
