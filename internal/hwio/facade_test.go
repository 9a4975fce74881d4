package hwio

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSession scripts the vendor interface for facade tests. The mutex
// only exists so tests can inspect state after the worker stopped.
type fakeSession struct {
	mu sync.Mutex

	cpuTemp  float64
	cpuErr   error
	cpuPanic bool
	gpuTemp1 float64
	gpuErr1  error
	gpuTemp2 float64
	gpuErr2  error
	rpmWord  uint16
	policy   int
	stop     int
	setErr   error
	delay    time.Duration

	calls  []string
	closed int
}

func (f *fakeSession) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

func (f *fakeSession) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeSession) GetCPUTemp() (float64, error) {
	f.record("GetCPUTemp")
	if f.cpuPanic {
		f.cpuPanic = false
		panic("sensor exploded")
	}
	return f.cpuTemp, f.cpuErr
}

func (f *fakeSession) GetGPUTemp1() (float64, error) {
	f.record("GetGPUTemp1")
	return f.gpuTemp1, f.gpuErr1
}

func (f *fakeSession) GetGPUTemp2() (float64, error) {
	f.record("GetGPUTemp2")
	return f.gpuTemp2, f.gpuErr2
}

func (f *fakeSession) GetRPM(FanChannel) (uint16, error) {
	f.record("GetRPM")
	return f.rpmWord, nil
}

func (f *fakeSession) GetChargePolicy() (int, error) {
	f.record("GetChargePolicy")
	return f.policy, nil
}

func (f *fakeSession) GetChargeStop() (int, error) {
	f.record("GetChargeStop")
	return f.stop, nil
}

func (f *fakeSession) SetFixedFanStatus(on bool) error {
	f.record(fmt.Sprintf("SetFixedFanStatus(%v)", on))
	return f.setErr
}

func (f *fakeSession) SetSuperQuiet(on bool) error {
	f.record(fmt.Sprintf("SetSuperQuiet(%v)", on))
	return f.setErr
}

func (f *fakeSession) SetAutoFanStatus(on bool) error {
	f.record(fmt.Sprintf("SetAutoFanStatus(%v)", on))
	return f.setErr
}

func (f *fakeSession) SetStepFanStatus(on bool) error {
	f.record(fmt.Sprintf("SetStepFanStatus(%v)", on))
	return f.setErr
}

func (f *fakeSession) SetFixedFanSpeed(raw float64) error {
	f.record(fmt.Sprintf("SetFixedFanSpeed(%v)", raw))
	return f.setErr
}

func (f *fakeSession) SetGPUFanDuty(raw float64) error {
	f.record(fmt.Sprintf("SetGPUFanDuty(%v)", raw))
	return f.setErr
}

func (f *fakeSession) SetChargePolicy(code int) error {
	f.record(fmt.Sprintf("SetChargePolicy(%d)", code))
	f.mu.Lock()
	f.policy = code
	f.mu.Unlock()
	return f.setErr
}

func (f *fakeSession) SetChargeStop(percent int) error {
	f.record(fmt.Sprintf("SetChargeStop(%d)", percent))
	f.mu.Lock()
	f.stop = percent
	f.mu.Unlock()
	return f.setErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func newTestFacade(t *testing.T, sess *fakeSession, opts ...Option) *Facade {
	t.Helper()
	f := NewFacade(func() (Session, error) { return sess, nil }, zerolog.Nop(), nil, opts...)
	if err := f.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.Stop() })
	return f
}

func TestStartStopReleasesSessionOnce(t *testing.T) {
	sess := &fakeSession{cpuTemp: 50, gpuTemp1: 45}
	f := newTestFacade(t, sess)
	if !f.Running() {
		t.Fatal("facade not running after Start")
	}
	if err := f.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed != 1 {
		t.Fatalf("session closed %d times, want 1", sess.closed)
	}
}

func TestStartFailureKeepsInitError(t *testing.T) {
	boom := errors.New("driver missing")
	f := NewFacade(func() (Session, error) { return nil, boom }, zerolog.Nop(), nil)
	if err := f.Start(); !errors.Is(err, boom) {
		t.Fatalf("Start error = %v, want wrapped %v", err, boom)
	}
	if f.Running() {
		t.Fatal("facade running after failed Start")
	}
	if err := f.InitError(); !errors.Is(err, boom) {
		t.Fatalf("InitError = %v", err)
	}
	if _, err := f.CPUTemperature(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("call after failed Start = %v, want ErrNotRunning", err)
	}
}

func TestCallsBeforeStart(t *testing.T) {
	f := NewFacade(func() (Session, error) { return &fakeSession{}, nil }, zerolog.Nop(), nil)
	if _, err := f.CPUTemperature(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestTemperatureValidation(t *testing.T) {
	sess := &fakeSession{cpuTemp: 61.5, gpuTemp1: 40, gpuTemp2: 52}
	f := newTestFacade(t, sess)

	got, err := f.CPUTemperature()
	if err != nil || got != 61.5 {
		t.Fatalf("CPUTemperature = %v, %v", got, err)
	}

	// GPU temperature is the max of both sensors.
	gpu, err := f.GPUTemperature()
	if err != nil || gpu != 52 {
		t.Fatalf("GPUTemperature = %v, %v", gpu, err)
	}
}

func TestTemperatureSentinelRejected(t *testing.T) {
	// 150 is the firmware's own invalid marker and must never pass as data.
	sess := &fakeSession{cpuTemp: 150, gpuTemp1: 150, gpuTemp2: 0}
	f := newTestFacade(t, sess)

	if _, err := f.CPUTemperature(); !errors.Is(err, ErrRead) {
		t.Fatalf("cpu sentinel err = %v, want ErrRead", err)
	}
	if _, err := f.GPUTemperature(); !errors.Is(err, ErrRead) {
		t.Fatalf("gpu sentinel err = %v, want ErrRead", err)
	}
}

func TestGPUTemperatureSingleSensor(t *testing.T) {
	sess := &fakeSession{gpuErr1: errors.New("no such sensor"), gpuTemp2: 47}
	f := newTestFacade(t, sess)
	got, err := f.GPUTemperature()
	if err != nil || got != 47 {
		t.Fatalf("GPUTemperature = %v, %v", got, err)
	}
}

func TestFanRPMByteSwap(t *testing.T) {
	sess := &fakeSession{rpmWord: 0x0C12}
	f := newTestFacade(t, sess)
	got, err := f.FanRPM(Fan1)
	if err != nil {
		t.Fatalf("FanRPM: %v", err)
	}
	if got != 0x120C {
		t.Fatalf("FanRPM = %d, want %d", got, 0x120C)
	}
}

func TestManualFanSequenceOrder(t *testing.T) {
	sess := &fakeSession{}
	f := newTestFacade(t, sess)
	if err := f.ConfigureManualFanControl(); err != nil {
		t.Fatalf("ConfigureManualFanControl: %v", err)
	}
	want := []string{
		"SetFixedFanStatus(true)",
		"SetSuperQuiet(false)",
		"SetAutoFanStatus(false)",
		"SetStepFanStatus(false)",
	}
	got := sess.recorded()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFirmwareFanSequenceOrder(t *testing.T) {
	sess := &fakeSession{}
	f := newTestFacade(t, sess)
	if err := f.ConfigureFirmwareFanControl(); err != nil {
		t.Fatalf("ConfigureFirmwareFanControl: %v", err)
	}
	want := []string{"SetAutoFanStatus(true)", "SetFixedFanStatus(false)"}
	got := sess.recorded()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestWriteFanDutyHitsBothChannels(t *testing.T) {
	sess := &fakeSession{}
	f := newTestFacade(t, sess)
	if err := f.WriteFanDutyRaw(115); err != nil {
		t.Fatalf("WriteFanDutyRaw: %v", err)
	}
	got := sess.recorded()
	if len(got) != 2 || got[0] != "SetFixedFanSpeed(115)" || got[1] != "SetGPUFanDuty(115)" {
		t.Fatalf("calls = %v", got)
	}
}

func TestConcurrentCallersEachGetTheirReply(t *testing.T) {
	sess := &fakeSession{cpuTemp: 61, gpuTemp1: 48, rpmWord: 0x0C12, policy: 4, stop: 80}
	f := newTestFacade(t, sess)

	var wg sync.WaitGroup
	errs := make(chan error, 120)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := f.CPUTemperature(); err != nil || v != 61 {
				errs <- fmt.Errorf("cpu: %v, %v", v, err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := f.FanRPM(Fan2); err != nil || v != 0x120C {
				errs <- fmt.Errorf("rpm: %v, %v", v, err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := f.ChargeStopPercent(); err != nil || v != 80 {
				errs <- fmt.Errorf("charge stop: %v, %v", v, err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCallTimeout(t *testing.T) {
	sess := &fakeSession{cpuTemp: 61, delay: 200 * time.Millisecond}
	f := newTestFacade(t, sess, WithCallTimeout(30*time.Millisecond))
	if _, err := f.CPUTemperature(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestQueueFull(t *testing.T) {
	sess := &fakeSession{cpuTemp: 61, delay: 150 * time.Millisecond}
	f := newTestFacade(t, sess,
		WithQueueSize(1),
		WithEnqueueTimeout(20*time.Millisecond),
		WithCallTimeout(2*time.Second))

	// First call occupies the worker, second fills the queue.
	done := make(chan struct{})
	go func() {
		_, _ = f.CPUTemperature()
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	go func() { _, _ = f.CPUTemperature() }()
	time.Sleep(30 * time.Millisecond)

	if _, err := f.CPUTemperature(); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	<-done
}

func TestStopReturnsWithPendingRequests(t *testing.T) {
	sess := &fakeSession{cpuTemp: 61, delay: 50 * time.Millisecond}
	f := newTestFacade(t, sess, WithCallTimeout(time.Second))

	for i := 0; i < 5; i++ {
		go func() { _, _ = f.CPUTemperature() }()
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := f.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v", elapsed)
	}
}

func TestWorkerSurvivesHandlerPanic(t *testing.T) {
	sess := &fakeSession{cpuTemp: 61, cpuPanic: true}
	f := newTestFacade(t, sess)

	if _, err := f.CPUTemperature(); err == nil {
		t.Fatal("expected error from panicking handler")
	}
	// The session must still be alive for the next request.
	got, err := f.CPUTemperature()
	if err != nil || got != 61 {
		t.Fatalf("follow-up call = %v, %v", got, err)
	}
}
