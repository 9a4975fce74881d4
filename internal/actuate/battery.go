package actuate

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"aeroctl/internal/config"
)

// ChargePolicy names a battery charging strategy.
type ChargePolicy string

const (
	// PolicyBIOS lets the firmware manage charging.
	PolicyBIOS ChargePolicy = "bios"
	// PolicyCustom limits charging at the configured stop threshold.
	PolicyCustom ChargePolicy = "custom"
	// PolicyUnknown means the device reported a code this build does not
	// know.
	PolicyUnknown ChargePolicy = "unknown"
)

// Raw firmware codes for the known policies.
const (
	policyCodeBIOS   = 0
	policyCodeCustom = 4
)

// PolicyCode maps a policy to its firmware code. Unknown policies fail
// before any device call.
func PolicyCode(p ChargePolicy) (int, error) {
	switch p {
	case PolicyBIOS:
		return policyCodeBIOS, nil
	case PolicyCustom:
		return policyCodeCustom, nil
	}
	return 0, fmt.Errorf("actuate: unknown charge policy %q", p)
}

// PolicyFromCode maps a firmware code back to its policy name.
func PolicyFromCode(code int) ChargePolicy {
	switch code {
	case policyCodeBIOS:
		return PolicyBIOS
	case policyCodeCustom:
		return PolicyCustom
	}
	return PolicyUnknown
}

// BatteryCommander is the slice of the hardware facade the battery
// manager needs.
type BatteryCommander interface {
	ChargePolicyCode() (int, error)
	SetChargePolicyCode(code int) error
	ChargeStopPercent() (int, error)
	SetChargeStopPercent(percent int) error
}

// BatteryManager caches the charge policy and stop threshold. The cache
// only moves on confirmed device success, so a failed write never makes
// the reported state drift from the hardware.
type BatteryManager struct {
	cmd    BatteryCommander
	logger zerolog.Logger

	mu        sync.Mutex
	policy    ChargePolicy
	threshold int
}

// NewBatteryManager builds a manager with an unknown policy and the
// maximum threshold until the first refresh or write.
func NewBatteryManager(cmd BatteryCommander, logger zerolog.Logger) *BatteryManager {
	return &BatteryManager{
		cmd:       cmd,
		logger:    logger.With().Str("component", "battery_manager").Logger(),
		policy:    PolicyUnknown,
		threshold: config.MaxChargePercent,
	}
}

// Policy reports the cached charge policy.
func (m *BatteryManager) Policy() ChargePolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Threshold reports the cached charge-stop percentage.
func (m *BatteryManager) Threshold() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// SetPolicy writes the policy to the device. Unknown policy names are
// rejected before touching the hardware.
func (m *BatteryManager) SetPolicy(policy ChargePolicy) error {
	code, err := PolicyCode(policy)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cmd.SetChargePolicyCode(code); err != nil {
		m.logger.Error().Err(err).Str("policy", string(policy)).Msg("charge policy write failed")
		return fmt.Errorf("set charge policy: %w", err)
	}
	m.policy = policy
	m.logger.Info().Str("policy", string(policy)).Msg("charge policy set")
	return nil
}

// SetThreshold writes the charge-stop percentage, clamped to the
// supported range.
func (m *BatteryManager) SetThreshold(percent int) error {
	effective := clampThreshold(percent)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cmd.SetChargeStopPercent(effective); err != nil {
		m.logger.Error().Err(err).Int("percent", effective).Msg("charge threshold write failed")
		return fmt.Errorf("set charge threshold: %w", err)
	}
	m.threshold = effective
	m.logger.Info().Int("percent", effective).Msg("charge threshold set")
	return nil
}

// RefreshStatus reads the policy and threshold from the device and
// updates the cache. A threshold read failure keeps the last known
// value; only the errors are reported.
func (m *BatteryManager) RefreshStatus() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	if code, err := m.cmd.ChargePolicyCode(); err != nil {
		firstErr = fmt.Errorf("read charge policy: %w", err)
	} else {
		m.policy = PolicyFromCode(code)
	}

	if percent, err := m.cmd.ChargeStopPercent(); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("read charge threshold: %w", err)
		}
	} else {
		m.threshold = clampThreshold(percent)
	}
	return firstErr
}

func clampThreshold(p int) int {
	if p < config.MinChargePercent {
		return config.MinChargePercent
	}
	if p > config.MaxChargePercent {
		return config.MaxChargePercent
	}
	return p
}
