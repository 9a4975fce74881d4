// Package service wires the hardware facade, the actuation managers and
// the auto controller into the periodic control loop and exposes the
// state surface the API serves.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aeroctl/internal/actuate"
	"aeroctl/internal/config"
	"aeroctl/internal/control"
	"aeroctl/internal/hwio"
	"aeroctl/internal/reload"
	"aeroctl/telemetry"
)

// observedWindow is how long a status request keeps the full sensor poll
// armed. While nobody watches, ticks only run the control algorithm.
const observedWindow = 10 * time.Second

// Status is the externally visible state snapshot.
type Status struct {
	Time             time.Time `json:"time"`
	CPUTemperature   float64   `json:"cpu_temperature"`
	GPUTemperature   float64   `json:"gpu_temperature"`
	Fan1RPM          int       `json:"fan1_rpm"`
	Fan2RPM          int       `json:"fan2_rpm"`
	FanMode          string    `json:"fan_mode"`
	AppliedPercent   int       `json:"applied_percent"`
	TargetPercent    int       `json:"target_percent"`
	BatteryPolicy    string    `json:"battery_policy"`
	BatteryThreshold int       `json:"battery_threshold"`
	Interval         string    `json:"interval"`
}

// Service owns the control loop and all device-facing components.
type Service struct {
	logger    zerolog.Logger
	collector telemetry.Collector

	facade  *hwio.Facade
	fans    *actuate.FanManager
	battery *actuate.BatteryManager
	auto    *control.Controller

	cycle      *cycleController
	watcher    *reload.Watcher
	configPath string

	mu            sync.Mutex
	profile       config.ProfileConfig
	status        Status
	observedUntil time.Time
	tick          uint64
}

// New builds a service from configuration. configPath may be empty when
// no file backs the configuration; hot reload is then disabled. The
// collector may be nil.
func New(cfg *config.Config, configPath string, logger zerolog.Logger, collector telemetry.Collector) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = telemetry.Noop()
	}

	opener, err := hwio.NewSessionOpener(hwio.BackendConfig{
		Backend:  cfg.Device.Backend,
		GetClass: cfg.Device.GetClass,
		SetClass: cfg.Device.SetClass,
	}, logger)
	if err != nil {
		return nil, err
	}

	facade := hwio.NewFacade(opener, logger, collector)
	fans := actuate.NewFanManager(facade, logger)
	battery := actuate.NewBatteryManager(facade, logger)
	auto := control.New(facade, fans, cfg.Profile.CPUCurve, cfg.Profile.GPUCurve, tuningFrom(cfg.Profile), logger, collector)

	svc := &Service{
		logger:     logger.With().Str("component", "service").Logger(),
		collector:  collector,
		facade:     facade,
		fans:       fans,
		battery:    battery,
		auto:       auto,
		cycle:      newCycleController(cfg.Profile.AdjustmentInterval.Duration),
		configPath: configPath,
		profile:    cloneProfile(cfg.Profile),
	}
	if cfg.HotReload && configPath != "" {
		svc.watcher = reload.NewWatcher(configPath)
	}
	return svc, nil
}

func tuningFrom(p config.ProfileConfig) control.Tuning {
	return control.Tuning{
		HysteresisPercent: p.HysteresisPercent,
		MinStep:           p.MinStep,
		MaxStep:           p.MaxStep,
	}
}

// cloneProfile copies the profile including its curve slices, so the
// stored profile never aliases caller-owned data.
func cloneProfile(p config.ProfileConfig) config.ProfileConfig {
	out := p
	out.CPUCurve = append([]config.CurvePoint(nil), p.CPUCurve...)
	out.GPUCurve = append([]config.CurvePoint(nil), p.GPUCurve...)
	return out
}

// Start brings up the hardware worker and applies the configured
// profile. A failed profile application is logged but does not abort
// startup; the device stays reachable and the next setter retries.
func (s *Service) Start() error {
	if err := s.facade.Start(); err != nil {
		return fmt.Errorf("start hardware worker: %w", err)
	}
	s.mu.Lock()
	profile := cloneProfile(s.profile)
	s.mu.Unlock()
	if err := s.applyProfile(profile); err != nil {
		s.logger.Warn().Err(err).Msg("initial profile not fully applied")
	}
	s.logger.Info().Str("fan_mode", profile.FanMode).Msg("service started")
	return nil
}

// Run executes the control loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	for {
		now, err := s.cycle.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		s.iterate(now)
	}
}

func (s *Service) iterate(now time.Time) {
	s.maybeReload()

	if s.autoRequested() {
		s.tickAuto()
	}

	s.mu.Lock()
	s.tick++
	poll := now.Before(s.observedUntil) && s.tick%2 == 0
	s.mu.Unlock()
	if poll {
		s.pollStatus()
	}
}

// autoRequested reports whether the profile asks for closed-loop fan
// control. The cached actuation mode can lag behind the request after a
// device failure, so the loop gates on the request, not the cache.
func (s *Service) autoRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.FanMode == actuate.ModeAuto.String()
}

// tickAuto runs one control cycle. When a previous device failure
// degraded the cached mode, manual control is re-entered first; a
// failed re-entry skips this cycle and the next tick retries.
func (s *Service) tickAuto() {
	if s.fans.Mode() != actuate.ModeAuto {
		if err := s.fans.SetModeAuto(); err != nil {
			s.logger.Warn().Err(err).Msg("auto mode re-entry failed")
			return
		}
		s.auto.Reset()
		s.logger.Info().Msg("auto mode re-entered")
	}
	if err := s.auto.Tick(); err != nil {
		s.logger.Warn().Err(err).Msg("control tick failed")
	}
}

// maybeReload re-reads the configuration file when it changed and pushes
// the new profile. The snapshot advances even when the reload fails, so
// a broken file is reported once instead of every tick.
func (s *Service) maybeReload() {
	if s.watcher == nil || !s.watcher.Changed() {
		return
	}
	s.watcher.Update()

	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Error().Err(err).Msg("config reload failed")
		return
	}
	if err := s.applyProfile(cfg.Profile); err != nil {
		s.logger.Warn().Err(err).Msg("reloaded profile not fully applied")
		return
	}
	s.logger.Info().Str("path", s.configPath).Msg("profile reloaded")
}

// applyProfile validates and applies a full profile: fan mode, battery
// settings, curves, tuning and cadence. Device failures do not stop the
// remaining steps; the first error is reported.
func (s *Service) applyProfile(p config.ProfileConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.auto.SetCurves(p.CPUCurve, p.GPUCurve)
	s.auto.SetTuning(tuningFrom(p))
	s.cycle.SetInterval(p.AdjustmentInterval.Duration)

	firstErr := s.applyFanMode(p.FanMode, p.FixedFanPercent)
	if err := s.applyBattery(p.BatteryPolicy, p.BatteryThreshold); err != nil && firstErr == nil {
		firstErr = err
	}

	s.mu.Lock()
	s.profile = cloneProfile(p)
	s.mu.Unlock()
	return firstErr
}

func (s *Service) applyFanMode(mode string, fixedPercent int) error {
	parsed, err := actuate.ParseFanMode(mode)
	if err != nil {
		return err
	}
	switch parsed {
	case actuate.ModeBIOS:
		return s.fans.SetModeBIOS()
	case actuate.ModeAuto:
		if err := s.fans.SetModeAuto(); err != nil {
			return err
		}
		s.auto.Reset()
		return nil
	case actuate.ModeFixed:
		return s.fans.SetModeFixed(fixedPercent)
	}
	return fmt.Errorf("unsupported fan mode %q", mode)
}

func (s *Service) applyBattery(policy string, threshold int) error {
	parsed := actuate.ChargePolicy(policy)
	if err := s.battery.SetPolicy(parsed); err != nil {
		return err
	}
	if parsed == actuate.PolicyCustom {
		if err := s.battery.SetThreshold(threshold); err != nil {
			return err
		}
	}
	return s.battery.RefreshStatus()
}

// Close hands fan control back to the firmware when software owned it
// and stops the hardware worker.
func (s *Service) Close() error {
	switch s.fans.Mode() {
	case actuate.ModeAuto, actuate.ModeFixed:
		if err := s.fans.SetModeBIOS(); err != nil {
			s.logger.Warn().Err(err).Msg("could not return fan control to firmware")
		} else {
			s.logger.Info().Msg("fan control returned to firmware")
		}
	}
	return s.facade.Stop()
}

// Running reports whether the hardware worker accepts requests.
func (s *Service) Running() bool {
	return s.facade.Running()
}

// Status snapshots the externally visible state. Calling it arms the
// alternating full sensor poll for the observed window; refresh forces a
// poll right now.
func (s *Service) Status(refresh bool) Status {
	s.mu.Lock()
	s.observedUntil = time.Now().Add(observedWindow)
	stale := s.status.Time.IsZero()
	s.mu.Unlock()

	if refresh || stale {
		s.pollStatus()
	}

	s.mu.Lock()
	st := s.status
	s.mu.Unlock()

	st.FanMode = s.fans.Mode().String()
	st.AppliedPercent = s.fans.AppliedPercent()
	st.TargetPercent = s.auto.LastTheoreticalTarget()
	st.BatteryPolicy = string(s.battery.Policy())
	st.BatteryThreshold = s.battery.Threshold()
	st.Interval = s.cycle.Interval().String()
	return st
}

// pollStatus reads every sensor through the facade. Failed reads keep
// the previous cached value.
func (s *Service) pollStatus() {
	cpu, cpuErr := s.facade.CPUTemperature()
	gpu, gpuErr := s.facade.GPUTemperature()
	rpm1, rpm1Err := s.facade.FanRPM(hwio.Fan1)
	rpm2, rpm2Err := s.facade.FanRPM(hwio.Fan2)
	if err := s.battery.RefreshStatus(); err != nil {
		s.logger.Debug().Err(err).Msg("battery status refresh failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cpuErr == nil {
		s.status.CPUTemperature = cpu
	}
	if gpuErr == nil {
		s.status.GPUTemperature = gpu
	}
	if rpm1Err == nil {
		s.status.Fan1RPM = rpm1
	}
	if rpm2Err == nil {
		s.status.Fan2RPM = rpm2
	}
	s.status.Time = time.Now()
}

// SetFanMode switches the actuation mode by name. The fixed mode reuses
// the profile's configured duty.
func (s *Service) SetFanMode(name string) error {
	s.mu.Lock()
	fixedPercent := s.profile.FixedFanPercent
	s.mu.Unlock()

	if err := s.applyFanMode(name, fixedPercent); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile.FanMode = name
	s.mu.Unlock()
	return nil
}

// SetFixedFanPercent switches to fixed mode at the given duty.
func (s *Service) SetFixedFanPercent(percent int) error {
	if err := s.fans.SetModeFixed(percent); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile.FanMode = actuate.ModeFixed.String()
	s.profile.FixedFanPercent = s.fans.AppliedPercent()
	s.mu.Unlock()
	return nil
}

// SetBatteryPolicy switches the charge policy by name. Switching to the
// custom policy re-applies the configured threshold.
func (s *Service) SetBatteryPolicy(name string) error {
	s.mu.Lock()
	threshold := s.profile.BatteryThreshold
	s.mu.Unlock()

	if err := s.applyBattery(name, threshold); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile.BatteryPolicy = name
	s.mu.Unlock()
	return nil
}

// SetBatteryThreshold updates the charge-stop percentage.
func (s *Service) SetBatteryThreshold(percent int) error {
	if err := s.battery.SetThreshold(percent); err != nil {
		return err
	}
	s.mu.Lock()
	s.profile.BatteryThreshold = s.battery.Threshold()
	s.mu.Unlock()
	return nil
}

// ApplyProfile replaces the whole profile at once.
func (s *Service) ApplyProfile(p config.ProfileConfig) error {
	return s.applyProfile(p)
}

// Profile returns a copy of the active profile.
func (s *Service) Profile() config.ProfileConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProfile(s.profile)
}
