// Package config loads the run configuration of the heatnet CLI.
//
// A run file is YAML. It is decoded into a generic map first and then
// into Config with mapstructure, on top of Default(), so a file only needs
// to name what it changes. A few settings can be overridden from the
// environment to match the logging and tracing packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/heatnet-simulator/core"
	"github.com/signalsfoundry/heatnet-simulator/internal/collector"
	"github.com/signalsfoundry/heatnet-simulator/internal/hydraulics"
)

// Config is a complete run description.
type Config struct {
	// Network is the topology file (JSON or YAML).
	Network string `mapstructure:"network"`
	// Duration of simulated time; zero runs until interrupted.
	Duration    time.Duration `mapstructure:"duration"`
	Tick        time.Duration `mapstructure:"tick"`
	Accelerated bool          `mapstructure:"accelerated"`
	// Start is the wall-clock time of simulation second zero. Profile
	// timestamps are measured from it.
	Start time.Time `mapstructure:"start"`

	Engine      EngineConfig     `mapstructure:"engine"`
	Hydraulics  HydraulicsConfig `mapstructure:"hydraulics"`
	Inputs      InputsConfig     `mapstructure:"inputs"`
	Output      OutputConfig     `mapstructure:"output"`
	Log         LogConfig        `mapstructure:"log"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
	MetricsAddr string           `mapstructure:"metrics_addr"`
}

type EngineConfig struct {
	SpecificHeat      float64 `mapstructure:"specific_heat"`
	ZeroFlowTolerance float64 `mapstructure:"zero_flow_tolerance"`
	MinVelocity       float64 `mapstructure:"min_velocity"`
	// HistoryRetention overrides the window derived from pipe lengths.
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

type HydraulicsConfig struct {
	MaxIterations             int     `mapstructure:"max_iterations"`
	Tolerance                 float64 `mapstructure:"tolerance"`
	Damping                   float64 `mapstructure:"damping"`
	FlowFloor                 float64 `mapstructure:"flow_floor"`
	LogMode                   string  `mapstructure:"log_mode"`
	NegativePressureTolerance float64 `mapstructure:"negative_pressure_tolerance"`
}

// InputsConfig drives the engine inputs: constants and CSV profiles.
type InputsConfig struct {
	Constant map[string]float64 `mapstructure:"constant"`
	Profiles []ProfileConfig    `mapstructure:"profiles"`
}

// ProfileConfig maps CSV columns to engine inputs.
type ProfileConfig struct {
	File    string            `mapstructure:"file"`
	Columns map[string]string `mapstructure:"columns"` // column -> input
	// Scale multiplies every value, e.g. 0.001 to turn W into kW.
	Scale float64 `mapstructure:"scale"`
}

type OutputConfig struct {
	JSONLines string      `mapstructure:"jsonlines"`
	Precision int32       `mapstructure:"precision"`
	Redis     RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	Stream string `mapstructure:"stream"`
	MaxLen int64  `mapstructure:"max_len"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	hyd := hydraulics.DefaultConfig()
	return Config{
		Duration:    24 * time.Hour,
		Tick:        5 * time.Minute,
		Accelerated: true,
		Engine: EngineConfig{
			SpecificHeat: 4186,
		},
		Hydraulics: HydraulicsConfig{
			MaxIterations: hyd.MaxIterations,
			Tolerance:     hyd.Tolerance,
			Damping:       hyd.Damping,
			FlowFloor:     hyd.FlowFloor,
			LogMode:       core.LogModeDefault,
		},
		Output: OutputConfig{
			Precision: collector.DefaultPrecision,
			Redis:     RedisConfig{Stream: collector.DefaultStream},
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "heatnet-simulator",
			SampleRatio: 1,
		},
		MetricsAddr: ":9090",
	}
}

// Load reads path, applies environment overrides and validates the
// result. Relative file names inside the config are resolved against the
// directory holding it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default(). Unknown keys are errors. It does not
// apply environment overrides or validate.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg := Default()
	if raw == nil {
		return &cfg, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		ErrorUnused: true,
		Result:      &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides settings from HEATNET_LOG_LEVEL, HEATNET_LOG_FORMAT,
// HEATNET_METRICS_ADDR, HEATNET_REDIS_ADDR and HEATNET_TRACING_ENABLED.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("HEATNET_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("HEATNET_LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup("HEATNET_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := lookup("HEATNET_REDIS_ADDR"); ok {
		c.Output.Redis.Addr = v
	}
	if v, ok := lookup("HEATNET_TRACING_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = b
		}
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Network == "" {
		errs = append(errs, errors.New("network is required"))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", c.Tick))
	}
	if c.Duration < 0 {
		errs = append(errs, fmt.Errorf("duration must not be negative, got %s", c.Duration))
	}
	if c.Engine.SpecificHeat <= 0 {
		errs = append(errs, fmt.Errorf("engine.specific_heat must be positive, got %g", c.Engine.SpecificHeat))
	}
	if d := c.Hydraulics.Damping; d <= 0 || d > 1 {
		errs = append(errs, fmt.Errorf("hydraulics.damping must be in (0, 1], got %g", d))
	}
	switch c.Hydraulics.LogMode {
	case core.LogModeDefault, core.LogModeAll:
	default:
		errs = append(errs, fmt.Errorf("hydraulics.log_mode must be %q or %q, got %q",
			core.LogModeDefault, core.LogModeAll, c.Hydraulics.LogMode))
	}
	if p := c.Output.Precision; p < 0 || p > 12 {
		errs = append(errs, fmt.Errorf("output.precision must be in [0, 12], got %d", p))
	}
	for i, p := range c.Inputs.Profiles {
		if p.File == "" {
			errs = append(errs, fmt.Errorf("inputs.profiles[%d]: file is required", i))
		}
		if len(p.Columns) == 0 {
			errs = append(errs, fmt.Errorf("inputs.profiles[%d]: columns is empty", i))
		}
	}
	if c.Tracing.Enabled {
		switch strings.ToLower(c.Tracing.Exporter) {
		case "stdout", "otlp":
		default:
			errs = append(errs, fmt.Errorf("tracing.exporter must be stdout or otlp, got %q", c.Tracing.Exporter))
		}
	}
	return errors.Join(errs...)
}

// HydraulicSolverConfig returns the solver settings.
func (c *Config) HydraulicSolverConfig() hydraulics.Config {
	return hydraulics.Config{
		MaxIterations: c.Hydraulics.MaxIterations,
		Tolerance:     c.Hydraulics.Tolerance,
		Damping:       c.Hydraulics.Damping,
		FlowFloor:     c.Hydraulics.FlowFloor,
	}
}

// HydraulicInterfaceConfig returns the adapter settings.
func (c *Config) HydraulicInterfaceConfig() core.HydraulicConfig {
	return core.HydraulicConfig{
		LogMode:                   c.Hydraulics.LogMode,
		NegativePressureTolerance: c.Hydraulics.NegativePressureTolerance,
	}
}

// EngineOptions translates the engine section into engine options.
func (c *Config) EngineOptions() []core.EngineOption {
	opts := []core.EngineOption{
		core.WithSpecificHeat(c.Engine.SpecificHeat),
		core.WithZeroFlowTolerance(c.Engine.ZeroFlowTolerance),
		core.WithMinVelocity(c.Engine.MinVelocity),
	}
	if c.Engine.HistoryRetention > 0 {
		opts = append(opts, core.WithHistoryRetention(c.Engine.HistoryRetention.Seconds()))
	}
	return opts
}

func (c *Config) resolvePaths(dir string) {
	c.Network = resolve(dir, c.Network)
	c.Output.JSONLines = resolve(dir, c.Output.JSONLines)
	for i := range c.Inputs.Profiles {
		c.Inputs.Profiles[i].File = resolve(dir, c.Inputs.Profiles[i].File)
	}
}

func resolve(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
