// Package config loads and validates the aeroctl configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported value ranges of the device protocol.
const (
	MinFanPercent    = 0
	MaxFanPercent    = 100
	MinChargePercent = 60
	MaxChargePercent = 100
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "500ms" or "5s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// CurvePoint is one (temperature °C, speed %) pair of a fan curve. It is
// written in YAML as a two-element flow sequence, e.g. `[50, 40]`.
type CurvePoint struct {
	Temp  float64
	Speed float64
}

// UnmarshalYAML decodes a `[temp, speed]` pair.
func (p *CurvePoint) UnmarshalYAML(value *yaml.Node) error {
	var pair []float64
	if err := value.Decode(&pair); err != nil {
		return fmt.Errorf("decode curve point: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("curve point must have exactly 2 elements, got %d", len(pair))
	}
	p.Temp = pair[0]
	p.Speed = pair[1]
	return nil
}

// MarshalYAML renders the point as a `[temp, speed]` pair.
func (p CurvePoint) MarshalYAML() (interface{}, error) {
	return []float64{p.Temp, p.Speed}, nil
}

// LokiConfig configures optional log shipping to Loki.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// DeviceConfig selects and parameterizes the hardware session backend.
type DeviceConfig struct {
	Backend  string `yaml:"backend"`
	GetClass string `yaml:"get_class,omitempty"`
	SetClass string `yaml:"set_class,omitempty"`
}

// APIConfig controls the embedded REST interface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// TelemetryConfig toggles Prometheus metric collection.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ProfileConfig carries the actuation targets and auto-mode tuning
// parameters. It is the unit replaced wholesale on a profile switch.
type ProfileConfig struct {
	FanMode            string       `yaml:"fan_mode"`
	FixedFanPercent    int          `yaml:"fixed_fan_percent"`
	CPUCurve           []CurvePoint `yaml:"cpu_curve"`
	GPUCurve           []CurvePoint `yaml:"gpu_curve"`
	BatteryPolicy      string       `yaml:"battery_policy"`
	BatteryThreshold   int          `yaml:"battery_threshold"`
	AdjustmentInterval Duration     `yaml:"adjustment_interval"`
	HysteresisPercent  int          `yaml:"hysteresis_percent"`
	MinStep            int          `yaml:"min_step"`
	MaxStep            int          `yaml:"max_step"`
}

// Config is the root configuration document.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Device    DeviceConfig    `yaml:"device"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Profile   ProfileConfig   `yaml:"profile"`
	HotReload bool            `yaml:"hot_reload"`
}

// Default returns the built-in configuration mirroring the reference
// firmware defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Device: DeviceConfig{
			Backend:  "sim",
			GetClass: "GB_WMIACPI_Get",
			SetClass: "GB_WMIACPI_Set",
		},
		API:       APIConfig{Enabled: false, Listen: ":18620"},
		Telemetry: TelemetryConfig{Enabled: false},
		Profile: ProfileConfig{
			FanMode:         "auto",
			FixedFanPercent: 30,
			CPUCurve: []CurvePoint{
				{50, 0}, {60, 15}, {70, 25}, {80, 40}, {85, 60}, {90, 80}, {95, 100},
			},
			GPUCurve: []CurvePoint{
				{40, 0}, {55, 15}, {65, 25}, {70, 40}, {75, 60}, {80, 80}, {85, 100},
			},
			BatteryPolicy:      "bios",
			BatteryThreshold:   80,
			AdjustmentInterval: Duration{1500 * time.Millisecond},
			HysteresisPercent:  5,
			MinStep:            1,
			MaxStep:            5,
		},
	}
}

// Load reads a configuration file, fills unset fields with defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks structural invariants. Device-facing range clamping
// happens later in the actuation layer; validation only rejects values a
// profile must never contain.
func (c *Config) Validate() error {
	switch c.Device.Backend {
	case "wmi", "sim":
	case "":
		return fmt.Errorf("device backend must not be empty")
	default:
		return fmt.Errorf("unknown device backend %q", c.Device.Backend)
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api listen address must not be empty")
	}
	return c.Profile.Validate()
}

// Validate checks the profile section.
func (p *ProfileConfig) Validate() error {
	switch p.FanMode {
	case "bios", "auto", "fixed":
	default:
		return fmt.Errorf("unknown fan mode %q", p.FanMode)
	}
	switch p.BatteryPolicy {
	case "bios", "custom":
	default:
		return fmt.Errorf("unknown battery policy %q", p.BatteryPolicy)
	}
	if p.FixedFanPercent < MinFanPercent || p.FixedFanPercent > MaxFanPercent {
		return fmt.Errorf("fixed fan percent %d outside [%d, %d]", p.FixedFanPercent, MinFanPercent, MaxFanPercent)
	}
	if p.BatteryThreshold < MinChargePercent || p.BatteryThreshold > MaxChargePercent {
		return fmt.Errorf("battery threshold %d outside [%d, %d]", p.BatteryThreshold, MinChargePercent, MaxChargePercent)
	}
	if p.AdjustmentInterval.Duration <= 0 {
		return fmt.Errorf("adjustment interval must be positive")
	}
	if p.HysteresisPercent < 0 {
		return fmt.Errorf("hysteresis percent must not be negative")
	}
	if p.MinStep < 0 {
		return fmt.Errorf("min step must not be negative")
	}
	if p.MaxStep < p.MinStep {
		return fmt.Errorf("max step %d below min step %d", p.MaxStep, p.MinStep)
	}
	if err := validateCurve("cpu_curve", p.CPUCurve); err != nil {
		return err
	}
	return validateCurve("gpu_curve", p.GPUCurve)
}

func validateCurve(name string, points []CurvePoint) error {
	if len(points) < 2 {
		return fmt.Errorf("%s needs at least 2 points, got %d", name, len(points))
	}
	for i, pt := range points {
		if pt.Speed < MinFanPercent || pt.Speed > MaxFanPercent {
			return fmt.Errorf("%s point %d: speed %v outside [%d, %d]", name, i, pt.Speed, MinFanPercent, MaxFanPercent)
		}
		if i > 0 && pt.Temp <= points[i-1].Temp {
			return fmt.Errorf("%s point %d: temperatures must be strictly ascending", name, i)
		}
		if i > 0 && pt.Speed < points[i-1].Speed {
			return fmt.Errorf("%s point %d: speed decreases along the curve", name, i)
		}
	}
	return nil
}
