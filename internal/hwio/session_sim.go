package hwio

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
)

// simSession emulates the vendor interface so the daemon can run on
// machines without the GB_WMIACPI firmware. Where the host exposes real
// temperature sensors they seed the simulation; otherwise plausible
// baselines are used. Like every Session it is confined to the worker
// goroutine, so no locking is required.
type simSession struct {
	logger  zerolog.Logger
	rnd     *rand.Rand
	started time.Time

	cpuBase float64
	gpuBase float64

	dutyRaw     float64
	fixedStatus bool
	superQuiet  bool
	autoStatus  bool
	stepStatus  bool
	policy      int
	chargeStop  int
}

func openSimSession(logger zerolog.Logger) (Session, error) {
	s := &simSession{
		logger:     logger.With().Str("component", "sim_session").Logger(),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		started:    time.Now(),
		cpuBase:    55,
		gpuBase:    48,
		autoStatus: true,
		policy:     0,
		chargeStop: 100,
	}
	s.seedFromHostSensors()
	s.logger.Info().Float64("cpu_base", s.cpuBase).Float64("gpu_base", s.gpuBase).Msg("simulated session opened")
	return s, nil
}

// seedFromHostSensors aligns the simulation with the machine it runs on
// when temperature sensors are readable.
func (s *simSession) seedFromHostSensors() {
	stats, err := host.SensorsTemperatures()
	if err != nil || len(stats) == 0 {
		return
	}
	for _, stat := range stats {
		if stat.Temperature <= tempMin || stat.Temperature >= tempMax {
			continue
		}
		key := strings.ToLower(stat.SensorKey)
		switch {
		case strings.Contains(key, "coretemp") || strings.Contains(key, "k10temp") || strings.Contains(key, "cpu"):
			s.cpuBase = stat.Temperature
		case strings.Contains(key, "gpu") || strings.Contains(key, "nouveau") || strings.Contains(key, "amdgpu"):
			s.gpuBase = stat.Temperature
		}
	}
}

// temperature derives a noisy reading that cools down as duty rises.
func (s *simSession) temperature(base float64) float64 {
	cooling := s.dutyRaw / RawDutyMax * 8
	jitter := (s.rnd.Float64() - 0.5) * 2
	return math.Max(tempMin+1, base-cooling+jitter)
}

func (s *simSession) GetCPUTemp() (float64, error) {
	return s.temperature(s.cpuBase), nil
}

func (s *simSession) GetGPUTemp1() (float64, error) {
	return s.temperature(s.gpuBase), nil
}

func (s *simSession) GetGPUTemp2() (float64, error) {
	return s.temperature(s.gpuBase - 3), nil
}

// GetRPM reports the tachometer word byte-swapped, exactly as the firmware
// does, so the worker's correction applies to simulated readings too.
func (s *simSession) GetRPM(FanChannel) (uint16, error) {
	rpm := uint16(s.dutyRaw / RawDutyMax * 5300)
	return rpm<<8 | rpm>>8, nil
}

func (s *simSession) GetChargePolicy() (int, error) {
	return s.policy, nil
}

func (s *simSession) GetChargeStop() (int, error) {
	return s.chargeStop, nil
}

func (s *simSession) SetFixedFanStatus(on bool) error {
	s.fixedStatus = on
	return nil
}

func (s *simSession) SetSuperQuiet(on bool) error {
	s.superQuiet = on
	return nil
}

func (s *simSession) SetAutoFanStatus(on bool) error {
	s.autoStatus = on
	return nil
}

func (s *simSession) SetStepFanStatus(on bool) error {
	s.stepStatus = on
	return nil
}

func (s *simSession) SetFixedFanSpeed(raw float64) error {
	s.dutyRaw = raw
	return nil
}

func (s *simSession) SetGPUFanDuty(raw float64) error {
	s.dutyRaw = raw
	return nil
}

func (s *simSession) SetChargePolicy(code int) error {
	s.policy = code
	return nil
}

func (s *simSession) SetChargeStop(percent int) error {
	s.chargeStop = percent
	return nil
}

func (s *simSession) Close() error {
	s.logger.Debug().Msg("simulated session closed")
	return nil
}
