// Package actuate turns mode and setpoint decisions into device writes.
// It owns the user-facing fan and battery state; the raw protocol lives
// in hwio.
package actuate

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"aeroctl/internal/hwio"
)

// FanMode is the actuation mode the manager believes the hardware is in.
type FanMode int

const (
	// ModeUnknown means the last device interaction failed and the true
	// hardware state cannot be assumed.
	ModeUnknown FanMode = iota
	// ModeBIOS means the firmware owns fan control.
	ModeBIOS
	// ModeAuto means software owns fan control and the temperature
	// controller drives the duty.
	ModeAuto
	// ModeFixed means software owns fan control at a constant duty.
	ModeFixed
)

// String names the mode for logs and the API.
func (m FanMode) String() string {
	switch m {
	case ModeBIOS:
		return "bios"
	case ModeAuto:
		return "auto"
	case ModeFixed:
		return "fixed"
	}
	return "unknown"
}

// ParseFanMode maps a mode name to its FanMode. Unknown names fail.
func ParseFanMode(name string) (FanMode, error) {
	switch name {
	case "bios":
		return ModeBIOS, nil
	case "auto":
		return ModeAuto, nil
	case "fixed":
		return ModeFixed, nil
	}
	return ModeUnknown, fmt.Errorf("actuate: unknown fan mode %q", name)
}

// UninitializedPercent marks an applied duty that was never written, or
// whose last write failed.
const UninitializedPercent = -1

// fanDeadZoneBelow is the lowest non-zero duty the fans reliably spin
// at. User-requested fixed duties below it snap to 0.
const fanDeadZoneBelow = 10

// FanCommander is the slice of the hardware facade the fan manager
// needs.
type FanCommander interface {
	ConfigureManualFanControl() error
	ConfigureFirmwareFanControl() error
	WriteFanDutyRaw(raw float64) error
}

// FanManager tracks the actuation mode and the last duty written. All
// methods are safe for concurrent use; a failed device interaction
// always degrades the state to unknown/uninitialized rather than
// guessing.
type FanManager struct {
	cmd    FanCommander
	logger zerolog.Logger

	mu      sync.Mutex
	mode    FanMode
	applied int
}

// NewFanManager builds a manager in unknown mode with no duty applied.
func NewFanManager(cmd FanCommander, logger zerolog.Logger) *FanManager {
	return &FanManager{
		cmd:     cmd,
		logger:  logger.With().Str("component", "fan_manager").Logger(),
		mode:    ModeUnknown,
		applied: UninitializedPercent,
	}
}

// Mode reports the current actuation mode.
func (m *FanManager) Mode() FanMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// AppliedPercent reports the last duty written, or UninitializedPercent.
func (m *FanManager) AppliedPercent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}

func (m *FanManager) fail(op string, err error) error {
	m.mode = ModeUnknown
	m.applied = UninitializedPercent
	m.logger.Error().Err(err).Str("op", op).Msg("fan actuation failed")
	return fmt.Errorf("%s: %w", op, err)
}

// SetModeBIOS hands fan control back to the firmware.
func (m *FanManager) SetModeBIOS() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cmd.ConfigureFirmwareFanControl(); err != nil {
		return m.fail("configure firmware fan control", err)
	}
	m.mode = ModeBIOS
	m.applied = UninitializedPercent
	m.logger.Info().Msg("fan control handed to firmware")
	return nil
}

// SetModeAuto enables manual fan control without writing a duty; the
// controller drives the duty from here.
func (m *FanManager) SetModeAuto() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cmd.ConfigureManualFanControl(); err != nil {
		return m.fail("configure manual fan control", err)
	}
	m.mode = ModeAuto
	m.applied = UninitializedPercent
	m.logger.Info().Msg("fan mode set to auto")
	return nil
}

// SetModeFixed enables manual fan control at a constant duty. Duties in
// the open interval (0, fanDeadZoneBelow) snap to 0 because the fans
// stall there anyway.
func (m *FanManager) SetModeFixed(percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	effective := clampPercent(percent)
	if effective > 0 && effective < fanDeadZoneBelow {
		effective = 0
	}

	if err := m.cmd.ConfigureManualFanControl(); err != nil {
		return m.fail("configure manual fan control", err)
	}
	if err := m.cmd.WriteFanDutyRaw(hwio.PercentToRaw(effective)); err != nil {
		return m.fail("write fan duty", err)
	}
	m.mode = ModeFixed
	m.applied = effective
	m.logger.Info().Int("percent", effective).Msg("fan mode set to fixed")
	return nil
}

// ApplySpeedPercent writes a duty without touching the mode. This is the
// controller's path: no dead zone, the curve decides how low is low.
func (m *FanManager) ApplySpeedPercent(percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	effective := clampPercent(percent)
	if err := m.cmd.WriteFanDutyRaw(hwio.PercentToRaw(effective)); err != nil {
		return m.fail("write fan duty", err)
	}
	m.applied = effective
	m.logger.Debug().Int("percent", effective).Msg("fan duty applied")
	return nil
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
