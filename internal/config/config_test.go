package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
profile:
  fan_mode: fixed
  fixed_fan_percent: 45
  adjustment_interval: 500ms
  cpu_curve: [[30, 20], [50, 40], [70, 70], [90, 100]]
  gpu_curve: [[40, 10], [80, 90]]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
	if cfg.Profile.FanMode != "fixed" || cfg.Profile.FixedFanPercent != 45 {
		t.Fatalf("profile overrides not applied: %+v", cfg.Profile)
	}
	if cfg.Profile.AdjustmentInterval.Duration != 500*time.Millisecond {
		t.Fatalf("unexpected interval %v", cfg.Profile.AdjustmentInterval.Duration)
	}
	// Defaults survive for untouched fields.
	if cfg.Profile.HysteresisPercent != 5 || cfg.Profile.MinStep != 1 || cfg.Profile.MaxStep != 5 {
		t.Fatalf("tuning defaults lost: %+v", cfg.Profile)
	}
	if cfg.Device.Backend != "sim" || cfg.Device.GetClass != "GB_WMIACPI_Get" {
		t.Fatalf("device defaults lost: %+v", cfg.Device)
	}
	if len(cfg.Profile.CPUCurve) != 4 || cfg.Profile.CPUCurve[1].Speed != 40 {
		t.Fatalf("curve not decoded: %+v", cfg.Profile.CPUCurve)
	}
}

func TestLoadRejectsInvalidProfiles(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown fan mode", "profile:\n  fan_mode: turbo\n"},
		{"unknown battery policy", "profile:\n  battery_policy: magic\n"},
		{"threshold too low", "profile:\n  battery_threshold: 30\n"},
		{"one point curve", "profile:\n  cpu_curve: [[50, 50]]\n"},
		{"descending temps", "profile:\n  cpu_curve: [[70, 30], [50, 50]]\n"},
		{"descending speeds", "profile:\n  cpu_curve: [[50, 50], [70, 30]]\n"},
		{"negative hysteresis", "profile:\n  hysteresis_percent: -1\n"},
		{"max step below min", "profile:\n  min_step: 5\n  max_step: 2\n"},
		{"unknown backend", "device:\n  backend: serial\n"},
		{"malformed point", "profile:\n  cpu_curve: [[50, 50, 1], [70, 80]]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration{1500 * time.Millisecond}
	raw, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if raw != "1.5s" {
		t.Fatalf("unexpected rendering %v", raw)
	}
}
