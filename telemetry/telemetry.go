package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the control loop and the
// hardware worker.
//
// Implementations should be inexpensive to call because hooks run inline
// with the periodic control cycle and the worker dispatch path.
type Collector interface {
	SetTemperatures(cpu, gpu float64)
	SetAppliedDuty(percent int)
	SetTargetDuty(percent int)
	IncRequestError(op string)
	IncDroppedReply(op string)
	IncControlTick()
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) SetTemperatures(float64, float64) {}
func (noopCollector) SetAppliedDuty(int)               {}
func (noopCollector) SetTargetDuty(int)                {}
func (noopCollector) IncRequestError(string)           {}
func (noopCollector) IncDroppedReply(string)           {}
func (noopCollector) IncControlTick()                  {}

// PrometheusCollector exposes control loop and worker telemetry via
// Prometheus.
type PrometheusCollector struct {
	cpuTemp       prometheus.Gauge
	gpuTemp       prometheus.Gauge
	appliedDuty   prometheus.Gauge
	targetDuty    prometheus.Gauge
	requestErrors *prometheus.CounterVec
	droppedReply  *prometheus.CounterVec
	ticks         prometheus.Counter
}

var registryMu sync.Mutex

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Registration is idempotent: re-registering against the same
// registerer reuses the existing collectors.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registryMu.Lock()
	defer registryMu.Unlock()

	c := &PrometheusCollector{}
	var err error

	if c.cpuTemp, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "aeroctl_cpu_temperature_celsius",
		Help: "Last valid CPU temperature reading.",
	}); err != nil {
		return nil, err
	}
	if c.gpuTemp, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "aeroctl_gpu_temperature_celsius",
		Help: "Last valid GPU temperature reading (max of available sensors).",
	}); err != nil {
		return nil, err
	}
	if c.appliedDuty, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "aeroctl_fan_applied_duty_percent",
		Help: "Fan duty percentage last transmitted to the device.",
	}); err != nil {
		return nil, err
	}
	if c.targetDuty, err = registerGauge(reg, prometheus.GaugeOpts{
		Name: "aeroctl_fan_target_duty_percent",
		Help: "Theoretical duty target computed from the fan curves.",
	}); err != nil {
		return nil, err
	}
	if c.requestErrors, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "aeroctl_hw_request_errors_total",
		Help: "Hardware requests that failed or timed out, per operation.",
	}, []string{"op"}); err != nil {
		return nil, err
	}
	if c.droppedReply, err = registerCounterVec(reg, prometheus.CounterOpts{
		Name: "aeroctl_hw_replies_dropped_total",
		Help: "Worker replies discarded because the caller abandoned its wait.",
	}, []string{"op"}); err != nil {
		return nil, err
	}
	if c.ticks, err = registerCounter(reg, prometheus.CounterOpts{
		Name: "aeroctl_control_ticks_total",
		Help: "Auto-temperature control cycles executed.",
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// SetTemperatures records the last valid temperature pair.
func (c *PrometheusCollector) SetTemperatures(cpu, gpu float64) {
	c.cpuTemp.Set(cpu)
	c.gpuTemp.Set(gpu)
}

// SetAppliedDuty records the duty last written to the device.
func (c *PrometheusCollector) SetAppliedDuty(percent int) {
	c.appliedDuty.Set(float64(percent))
}

// SetTargetDuty records the last theoretical target.
func (c *PrometheusCollector) SetTargetDuty(percent int) {
	c.targetDuty.Set(float64(percent))
}

// IncRequestError counts a failed or timed out hardware request.
func (c *PrometheusCollector) IncRequestError(op string) {
	c.requestErrors.WithLabelValues(op).Inc()
}

// IncDroppedReply counts a reply discarded by the worker.
func (c *PrometheusCollector) IncDroppedReply(op string) {
	c.droppedReply.WithLabelValues(op).Inc()
}

// IncControlTick counts one control cycle.
func (c *PrometheusCollector) IncControlTick() {
	c.ticks.Inc()
}

func registerGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts) (prometheus.Gauge, error) {
	gauge := prometheus.NewGauge(opts)
	if err := reg.Register(gauge); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) (prometheus.Counter, error) {
	counter := prometheus.NewCounter(opts)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}
