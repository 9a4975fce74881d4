package hwio

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"aeroctl/telemetry"
)

// State describes the worker lifecycle.
type State int32

const (
	// StateNotStarted means the worker goroutine has not been spawned.
	StateNotStarted State = iota
	// StateInitializing means the session is being established.
	StateInitializing
	// StateReady means the worker is serving requests.
	StateReady
	// StateDraining means the drain sentinel was observed.
	StateDraining
	// StateStopped means the worker goroutine has exited.
	StateStopped
)

// String names the state for logs.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ErrRead marks a reading the device reported but that failed protocol
// validation, e.g. a temperature outside the valid interval.
var ErrRead = errors.New("hwio: invalid reading")

// handlerBackoff is the pause after an unexpected handler failure, so one
// malformed request cannot spin the loop.
const handlerBackoff = 100 * time.Millisecond

// worker owns the hardware session. It processes queued requests serially
// on its own goroutine; the session is created at loop entry and released
// exactly once on every exit path.
type worker struct {
	open      OpenSessionFunc
	requests  <-chan request
	ready     chan struct{}
	done      chan struct{}
	initErr   error
	state     atomic.Int32
	logger    zerolog.Logger
	collector telemetry.Collector
}

func newWorker(open OpenSessionFunc, requests <-chan request, logger zerolog.Logger, collector telemetry.Collector) *worker {
	return &worker{
		open:      open,
		requests:  requests,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.With().Str("component", "hw_worker").Logger(),
		collector: collector,
	}
}

func (w *worker) currentState() State {
	return State(w.state.Load())
}

// run is the worker main loop. The initialization outcome is signaled
// exactly once through the ready channel; the done channel closes when the
// goroutine exits.
func (w *worker) run() {
	defer close(w.done)
	defer w.state.Store(int32(StateStopped))

	w.state.Store(int32(StateInitializing))
	sess, err := w.open()
	if err != nil {
		w.initErr = fmt.Errorf("open hardware session: %w", err)
		close(w.ready)
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("session close failed")
		}
	}()

	w.state.Store(int32(StateReady))
	close(w.ready)

	for req := range w.requests {
		if req.op == opDrain {
			w.state.Store(int32(StateDraining))
			return
		}
		w.handle(sess, req)
	}
}

// handle dispatches one request and posts exactly one result to its reply
// slot. The send never blocks: if the caller abandoned its wait the result
// is discarded.
func (w *worker) handle(sess Session, req request) {
	res := w.dispatch(sess, req)
	if res.err != nil {
		w.collector.IncRequestError(req.op.String())
	}
	select {
	case req.reply <- res:
	default:
		w.collector.IncDroppedReply(req.op.String())
		w.logger.Warn().Str("op", req.op.String()).Msg("reply slot full, discarding result")
	}
}

// dispatch executes the device calls for one request. A panic in a backend
// is contained here: it is converted into an error result and followed by
// a short backoff, so a single bad request cannot end the session for all
// subsequent ones.
func (w *worker) dispatch(sess Session, req request) (res result) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Str("op", req.op.String()).Msg("request handler panicked")
			res = result{err: fmt.Errorf("hwio: %s handler panicked: %v", req.op, r)}
			time.Sleep(handlerBackoff)
		}
	}()

	switch req.op {
	case OpReadCPUTemp:
		v, err := sess.GetCPUTemp()
		if err != nil {
			return result{err: err}
		}
		if !validTemperature(v) {
			return result{err: fmt.Errorf("%w: cpu temperature %v", ErrRead, v)}
		}
		return result{value: v}

	case OpReadGPUTemp:
		return readGPUTemp(sess)

	case OpReadFanRPM:
		raw, err := sess.GetRPM(req.channel)
		if err != nil {
			return result{err: err}
		}
		return result{value: float64(correctRPM(raw))}

	case OpReadChargePolicy:
		v, err := sess.GetChargePolicy()
		return result{value: float64(v), err: err}

	case OpWriteChargePolicy:
		return result{err: sess.SetChargePolicy(int(req.value))}

	case OpReadChargeStop:
		v, err := sess.GetChargeStop()
		return result{value: float64(v), err: err}

	case OpWriteChargeStop:
		return result{err: sess.SetChargeStop(int(req.value))}

	case OpConfigureManualFan:
		return result{err: configureManualFan(sess)}

	case OpConfigureFirmwareFan:
		return result{err: configureFirmwareFan(sess)}

	case OpWriteFanDuty:
		if err := sess.SetFixedFanSpeed(req.value); err != nil {
			return result{err: err}
		}
		return result{err: sess.SetGPUFanDuty(req.value)}
	}
	// Unreachable: the op set is closed and opDrain never reaches dispatch.
	return result{err: fmt.Errorf("hwio: unhandled op %d", req.op)}
}

// readGPUTemp queries both GPU sensors and reports the maximum valid
// reading. Discrete GPUs may expose only one sensor; a single failing
// sensor is not an error as long as the other yields a valid value.
func readGPUTemp(sess Session) result {
	best := 0.0
	found := false
	var lastErr error
	for _, read := range []func() (float64, error){sess.GetGPUTemp1, sess.GetGPUTemp2} {
		v, err := read()
		if err != nil {
			lastErr = err
			continue
		}
		if !validTemperature(v) {
			continue
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	if !found {
		if lastErr != nil {
			return result{err: lastErr}
		}
		return result{err: fmt.Errorf("%w: no valid gpu temperature", ErrRead)}
	}
	return result{value: best}
}

// configureManualFan writes the four control flags, in the order the
// firmware requires, before any duty write may be issued.
func configureManualFan(sess Session) error {
	steps := []struct {
		name string
		call func() error
	}{
		{"SetFixedFanStatus", func() error { return sess.SetFixedFanStatus(true) }},
		{"SetSuperQuiet", func() error { return sess.SetSuperQuiet(false) }},
		{"SetAutoFanStatus", func() error { return sess.SetAutoFanStatus(false) }},
		{"SetStepFanStatus", func() error { return sess.SetStepFanStatus(false) }},
	}
	for _, step := range steps {
		if err := step.call(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// configureFirmwareFan hands fan control back to the firmware. Note: there
// is no vendor call that atomically returns both channels to firmware
// control; this two-flag sequence is the documented workaround and has not
// been verified on every model.
func configureFirmwareFan(sess Session) error {
	if err := sess.SetAutoFanStatus(true); err != nil {
		return fmt.Errorf("SetAutoFanStatus: %w", err)
	}
	if err := sess.SetFixedFanStatus(false); err != nil {
		return fmt.Errorf("SetFixedFanStatus: %w", err)
	}
	return nil
}
