// Package control implements the closed-loop auto fan controller: per
// tick it derives a target duty from the temperature curves and walks
// the applied duty toward it with hysteresis and a step-limited ramp.
package control

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"aeroctl/internal/config"
	"aeroctl/internal/interp"
	"aeroctl/telemetry"
)

// TemperatureReader supplies the sensor side of the loop.
type TemperatureReader interface {
	CPUTemperature() (float64, error)
	GPUTemperature() (float64, error)
}

// DutyWriter supplies the actuation side of the loop.
type DutyWriter interface {
	AppliedPercent() int
	ApplySpeedPercent(percent int) error
}

// Tuning carries the ramp parameters. Values come from the profile and
// are normalized on entry, not validated.
type Tuning struct {
	HysteresisPercent int
	MinStep           int
	MaxStep           int
}

func (t Tuning) normalized() Tuning {
	if t.HysteresisPercent < 0 {
		t.HysteresisPercent = 0
	}
	if t.MinStep < 1 {
		t.MinStep = 1
	}
	if t.MaxStep < t.MinStep {
		t.MaxStep = t.MinStep
	}
	return t
}

// uninitialized marks ramp state that has not been established yet.
const uninitialized = -1

// curve is an immutable snapshot of one fan curve: sorted, de-duplicated
// points and a ready evaluator. It never aliases the profile data it was
// built from.
type curve struct {
	points []interp.Point
	eval   func(float64) float64
}

func newCurve(points []config.CurvePoint) curve {
	pts := make([]interp.Point, 0, len(points))
	for _, p := range points {
		pts = append(pts, interp.Point{X: p.Temp, Y: p.Speed})
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })

	// Duplicate temperatures collapse to the highest speed seen.
	out := make([]interp.Point, 0, len(pts))
	for _, p := range pts {
		if n := len(out); n > 0 && out[n-1].X == p.X {
			if p.Y > out[n-1].Y {
				out[n-1].Y = p.Y
			}
			continue
		}
		out = append(out, p)
	}

	c := curve{points: out}
	if spline, err := interp.NewPCHIP(out, false); err == nil {
		c.eval = spline.Eval
	} else {
		snapshot := out
		c.eval = func(x float64) float64 { return interp.Linear(x, snapshot) }
	}
	return c
}

func (c curve) minSpeed() float64 {
	if len(c.points) == 0 {
		return 0
	}
	return c.points[0].Y
}

// target maps a temperature reading to a duty. A read error falls back
// to the curve's minimum speed so a dead sensor never spins the fans up.
func (c curve) target(temp float64, readErr error) float64 {
	if readErr != nil || len(c.points) == 0 {
		return c.minSpeed()
	}
	return c.eval(temp)
}

// Controller runs the per-tick auto fan algorithm. Hosts drive it from
// a single scheduler goroutine; the mutex additionally allows curve and
// tuning replacement from other goroutines between ticks.
type Controller struct {
	reader    TemperatureReader
	writer    DutyWriter
	logger    zerolog.Logger
	collector telemetry.Collector

	mu     sync.Mutex
	cpu    curve
	gpu    curve
	tuning Tuning

	activeTarget    int
	lastTheoretical int
	step            int
	anchor          int
}

// New builds a controller over the given curves and tuning. The
// collector may be nil.
func New(reader TemperatureReader, writer DutyWriter, cpuCurve, gpuCurve []config.CurvePoint, tuning Tuning, logger zerolog.Logger, collector telemetry.Collector) *Controller {
	if collector == nil {
		collector = telemetry.Noop()
	}
	c := &Controller{
		reader:    reader,
		writer:    writer,
		logger:    logger.With().Str("component", "auto_controller").Logger(),
		collector: collector,
		cpu:       newCurve(cpuCurve),
		gpu:       newCurve(gpuCurve),
		tuning:    tuning.normalized(),
	}
	c.resetLocked()
	return c
}

// SetCurves replaces both curve snapshots and resets the ramp state.
func (c *Controller) SetCurves(cpuCurve, gpuCurve []config.CurvePoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cpu = newCurve(cpuCurve)
	c.gpu = newCurve(gpuCurve)
	c.resetLocked()
	c.logger.Info().Int("cpu_points", len(c.cpu.points)).Int("gpu_points", len(c.gpu.points)).Msg("curves replaced")
}

// SetTuning replaces the ramp parameters and resets the ramp state.
func (c *Controller) SetTuning(t Tuning) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tuning = t.normalized()
	c.resetLocked()
	c.logger.Info().
		Int("hysteresis", c.tuning.HysteresisPercent).
		Int("min_step", c.tuning.MinStep).
		Int("max_step", c.tuning.MaxStep).
		Msg("tuning replaced")
}

// Reset clears all ramp state, as on auto-mode re-entry.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.activeTarget = uninitialized
	c.lastTheoretical = uninitialized
	c.step = 0
	c.anchor = uninitialized
}

// LastTheoreticalTarget reports the most recent curve-derived target, or
// 0 before the first tick.
func (c *Controller) LastTheoreticalTarget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastTheoretical == uninitialized {
		return 0
	}
	return c.lastTheoretical
}

// ActiveTarget reports the target the ramp is currently walking toward,
// or -1 before the first tick.
func (c *Controller) ActiveTarget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTarget
}

// Tick runs one control cycle. Sensor read errors degrade to each
// curve's minimum speed; only a failed duty write is reported, and the
// ramp state is kept so the next tick retries from the same position.
func (c *Controller) Tick() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.collector.IncControlTick()

	cpuTemp, cpuErr := c.reader.CPUTemperature()
	gpuTemp, gpuErr := c.reader.GPUTemperature()
	if cpuErr != nil {
		c.logger.Debug().Err(cpuErr).Msg("cpu temperature unavailable")
		cpuTemp = math.NaN()
	}
	if gpuErr != nil {
		c.logger.Debug().Err(gpuErr).Msg("gpu temperature unavailable")
		gpuTemp = math.NaN()
	}
	c.collector.SetTemperatures(cpuTemp, gpuTemp)

	cpuTarget := c.cpu.target(cpuTemp, cpuErr)
	gpuTarget := c.gpu.target(gpuTemp, gpuErr)
	theoretical := int(math.Round(interp.Clamp(math.Max(cpuTarget, gpuTarget), config.MinFanPercent, config.MaxFanPercent)))
	c.lastTheoretical = theoretical
	c.collector.SetTargetDuty(theoretical)

	if c.activeTarget == uninitialized || absInt(theoretical-c.activeTarget) > c.tuning.HysteresisPercent {
		c.activeTarget = theoretical
		c.anchor = c.writer.AppliedPercent()
		c.step = 0
		c.logger.Debug().Int("target", c.activeTarget).Int("anchor", c.anchor).Msg("active target changed")
	}

	applied := c.writer.AppliedPercent()
	if applied == c.activeTarget {
		c.step = 0
		c.anchor = uninitialized
		return nil
	}

	if c.step == 0 {
		ref := c.anchor
		if ref == uninitialized {
			ref = applied
		}
		c.step = c.deriveStep(absInt(c.activeTarget - ref))
	}

	next := applied
	if applied < c.activeTarget {
		next = applied + c.step
		if next > c.activeTarget {
			next = c.activeTarget
		}
	} else {
		next = applied - c.step
		if next < c.activeTarget {
			next = c.activeTarget
		}
	}

	if err := c.writer.ApplySpeedPercent(next); err != nil {
		return fmt.Errorf("apply duty: %w", err)
	}
	c.collector.SetAppliedDuty(next)

	if next == c.activeTarget {
		c.step = 0
		c.anchor = uninitialized
	}
	return nil
}

// deriveStep maps the gap between anchor and target onto the configured
// step range: small corrections move gently, large ones at max step.
func (c *Controller) deriveStep(gap int) int {
	frac := math.Min(1, float64(gap)/100)
	step := int(math.Round(float64(c.tuning.MinStep) + float64(c.tuning.MaxStep-c.tuning.MinStep)*frac))
	if step < c.tuning.MinStep {
		step = c.tuning.MinStep
	}
	if step > c.tuning.MaxStep {
		step = c.tuning.MaxStep
	}
	if step < 1 {
		step = 1
	}
	return step
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
