// Package hwio bridges a blocking, session-affine vendor management
// interface into a synchronous service callable from any goroutine.
//
// A single dedicated worker goroutine owns the hardware session and
// serially processes queued requests; the Facade is the only cross-
// goroutine entry point and turns each logical operation into an
// enqueue-and-block-with-timeout call.
package hwio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"aeroctl/telemetry"
)

// Sentinel errors surfaced by Facade calls. They are ordinary recoverable
// failures: callers on a tick path defer retry to the next tick.
var (
	// ErrNotRunning is returned when the worker is not in the Ready state.
	ErrNotRunning = errors.New("hwio: facade not running")
	// ErrQueueFull is returned when the request queue stayed full for the
	// whole enqueue wait.
	ErrQueueFull = errors.New("hwio: request queue full")
	// ErrTimeout is returned when the worker did not reply in time.
	ErrTimeout = errors.New("hwio: request timed out")
	// ErrStartTimeout is returned when the worker did not finish
	// initializing within the start timeout.
	ErrStartTimeout = errors.New("hwio: worker initialization timed out")
	// ErrStopTimeout is returned when the worker did not exit within the
	// stop timeout. The facade is still marked stopped.
	ErrStopTimeout = errors.New("hwio: worker did not exit in time")
)

const (
	defaultQueueSize      = 50
	defaultCallTimeout    = 5 * time.Second
	defaultEnqueueTimeout = 1 * time.Second
	defaultStartTimeout   = 15 * time.Second
)

// Option customizes a Facade.
type Option func(*Facade)

// WithCallTimeout bounds the wait for a worker reply.
func WithCallTimeout(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.callTimeout = d
		}
	}
}

// WithStartTimeout bounds the wait for worker initialization.
func WithStartTimeout(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.startTimeout = d
		}
	}
}

// WithEnqueueTimeout bounds the wait for a slot in the request queue.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.enqueueTimeout = d
		}
	}
}

// WithQueueSize sets the request queue capacity.
func WithQueueSize(n int) Option {
	return func(f *Facade) {
		if n > 0 {
			f.queueSize = n
		}
	}
}

// Facade is the synchronous entry point to the hardware worker. All
// methods are safe for concurrent use; each call owns a private reply
// slot, so only the shared request queue is contended.
type Facade struct {
	open      OpenSessionFunc
	logger    zerolog.Logger
	collector telemetry.Collector

	queueSize      int
	callTimeout    time.Duration
	enqueueTimeout time.Duration
	startTimeout   time.Duration

	mu       sync.Mutex
	worker   *worker
	requests chan request
	running  atomic.Bool
	initErr  error
}

// NewFacade builds a facade over the given session opener. The collector
// may be nil.
func NewFacade(open OpenSessionFunc, logger zerolog.Logger, collector telemetry.Collector, opts ...Option) *Facade {
	if collector == nil {
		collector = telemetry.Noop()
	}
	f := &Facade{
		open:           open,
		logger:         logger.With().Str("component", "hw_facade").Logger(),
		collector:      collector,
		queueSize:      defaultQueueSize,
		callTimeout:    defaultCallTimeout,
		enqueueTimeout: defaultEnqueueTimeout,
		startTimeout:   defaultStartTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start spins the worker goroutine and blocks until it reached Ready or
// failed to initialize. Start is idempotent: while running it reports the
// previous outcome.
func (f *Facade) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running.Load() {
		return f.initErr
	}

	f.initErr = nil
	f.requests = make(chan request, f.queueSize)
	f.worker = newWorker(f.open, f.requests, f.logger, f.collector)
	go f.worker.run()
	f.running.Store(true)

	select {
	case <-f.worker.ready:
	case <-time.After(f.startTimeout):
		f.initErr = ErrStartTimeout
		f.cleanupLocked()
		return f.initErr
	}

	if err := f.worker.initErr; err != nil {
		f.initErr = err
		f.cleanupLocked()
		return err
	}
	f.logger.Info().Msg("hardware worker ready")
	return nil
}

// Stop enqueues the drain sentinel and waits for the worker to exit within
// a bounded timeout. A wedged worker is logged and abandoned rather than
// blocking host shutdown. Stop is idempotent.
func (f *Facade) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running.Load() {
		return nil
	}
	return f.cleanupLocked()
}

func (f *Facade) cleanupLocked() error {
	f.running.Store(false)
	w := f.worker
	f.worker = nil
	if w == nil {
		return nil
	}

	// Best effort: a full queue must not prevent shutdown, the join
	// timeout below bounds the wait either way.
	select {
	case f.requests <- request{op: opDrain}:
	default:
	}

	select {
	case <-w.done:
		return nil
	case <-time.After(f.callTimeout + 2*time.Second):
		f.logger.Warn().Str("state", w.currentState().String()).Msg("hardware worker did not exit in time")
		return ErrStopTimeout
	}
}

// Running reports whether the worker is accepting requests.
func (f *Facade) Running() bool {
	return f.running.Load()
}

// InitError returns the error kept from the last failed Start, if any.
func (f *Facade) InitError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initErr
}

// call performs one synchronous round trip. Timeouts and device errors are
// returned as values; nothing panics across this boundary.
func (f *Facade) call(req request) (float64, error) {
	if !f.running.Load() {
		return 0, ErrNotRunning
	}
	req.reply = make(chan result, 1)

	requests := f.requestChannel()
	if requests == nil {
		return 0, ErrNotRunning
	}
	select {
	case requests <- req:
	case <-time.After(f.enqueueTimeout):
		f.collector.IncRequestError(req.op.String())
		return 0, ErrQueueFull
	}

	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-time.After(f.callTimeout):
		f.collector.IncRequestError(req.op.String())
		return 0, ErrTimeout
	}
}

func (f *Facade) requestChannel() chan request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// CPUTemperature reads the CPU temperature in °C.
func (f *Facade) CPUTemperature() (float64, error) {
	return f.call(request{op: OpReadCPUTemp})
}

// GPUTemperature reads the GPU temperature in °C, the maximum of the
// available sensors.
func (f *Facade) GPUTemperature() (float64, error) {
	return f.call(request{op: OpReadGPUTemp})
}

// FanRPM reads the corrected rotation speed of the given channel.
func (f *Facade) FanRPM(ch FanChannel) (int, error) {
	v, err := f.call(request{op: OpReadFanRPM, channel: ch})
	return int(v), err
}

// ChargePolicyCode reads the raw battery charge policy code.
func (f *Facade) ChargePolicyCode() (int, error) {
	v, err := f.call(request{op: OpReadChargePolicy})
	return int(v), err
}

// SetChargePolicyCode writes the raw battery charge policy code.
func (f *Facade) SetChargePolicyCode(code int) error {
	_, err := f.call(request{op: OpWriteChargePolicy, value: float64(code)})
	return err
}

// ChargeStopPercent reads the charge-stop percentage.
func (f *Facade) ChargeStopPercent() (int, error) {
	v, err := f.call(request{op: OpReadChargeStop})
	return int(v), err
}

// SetChargeStopPercent writes the charge-stop percentage.
func (f *Facade) SetChargeStopPercent(percent int) error {
	_, err := f.call(request{op: OpWriteChargeStop, value: float64(percent)})
	return err
}

// ConfigureManualFanControl runs the ordered flag sequence that enables
// software duty writes. The sequence executes within one request, so no
// other request can interleave mid-sequence.
func (f *Facade) ConfigureManualFanControl() error {
	_, err := f.call(request{op: OpConfigureManualFan})
	return err
}

// ConfigureFirmwareFanControl hands fan control back to the firmware.
func (f *Facade) ConfigureFirmwareFanControl() error {
	_, err := f.call(request{op: OpConfigureFirmwareFan})
	return err
}

// WriteFanDutyRaw writes a raw duty value to both fan channels.
func (f *Facade) WriteFanDutyRaw(raw float64) error {
	_, err := f.call(request{op: OpWriteFanDuty, value: raw})
	return err
}
