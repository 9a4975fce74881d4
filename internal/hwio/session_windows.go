//go:build windows

package hwio

import (
	"fmt"
	"runtime"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/rs/zerolog"
)

const wmiNamespace = `root\WMI`

// wmiSession talks to the vendor ACPI-WMI classes through COM. The COM
// apartment is initialized on the worker goroutine, which is locked to its
// OS thread for the lifetime of the session.
type wmiSession struct {
	logger  zerolog.Logger
	locator *ole.IUnknown
	service *ole.IDispatch
	getObj  *ole.IDispatch
	setObj  *ole.IDispatch
}

func newWMIOpener(cfg BackendConfig, logger zerolog.Logger) (OpenSessionFunc, error) {
	if cfg.GetClass == "" || cfg.SetClass == "" {
		return nil, fmt.Errorf("hwio: wmi backend requires get_class and set_class")
	}
	return func() (Session, error) {
		return openWMISession(cfg, logger)
	}, nil
}

func openWMISession(cfg BackendConfig, logger zerolog.Logger) (Session, error) {
	// The session must stay on the thread that initialized COM.
	runtime.LockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("initialize COM: %w", err)
	}

	s := &wmiSession{logger: logger.With().Str("component", "wmi_session").Logger()}

	unknown, err := oleutil.CreateObject("WbemScripting.SWbemLocator")
	if err != nil {
		s.release()
		return nil, fmt.Errorf("create WbemScripting.SWbemLocator: %w", err)
	}
	s.locator = unknown

	locator, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("query locator dispatch: %w", err)
	}
	defer locator.Release()

	serviceRaw, err := oleutil.CallMethod(locator, "ConnectServer", ".", wmiNamespace)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("connect to %s: %w", wmiNamespace, err)
	}
	s.service = serviceRaw.ToIDispatch()

	if s.getObj, err = s.firstInstance(cfg.GetClass); err != nil {
		s.release()
		return nil, err
	}
	if s.setObj, err = s.firstInstance(cfg.SetClass); err != nil {
		s.release()
		return nil, err
	}

	s.logger.Info().Str("get_class", cfg.GetClass).Str("set_class", cfg.SetClass).Msg("wmi session opened")
	return s, nil
}

// firstInstance fetches the first instance of a WMI class. A missing
// instance means the vendor driver stack is not installed.
func (s *wmiSession) firstInstance(class string) (*ole.IDispatch, error) {
	resultRaw, err := oleutil.CallMethod(s.service, "ExecQuery", "SELECT * FROM "+class)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", class, err)
	}
	collection := resultRaw.ToIDispatch()
	defer collection.Release()

	countVar, err := oleutil.GetProperty(collection, "Count")
	if err != nil {
		return nil, fmt.Errorf("count %s instances: %w", class, err)
	}
	if countVar.Val == 0 {
		return nil, fmt.Errorf("no %s instance found; vendor driver not available", class)
	}

	itemRaw, err := oleutil.CallMethod(collection, "ItemIndex", 0)
	if err != nil {
		return nil, fmt.Errorf("fetch %s instance: %w", class, err)
	}
	return itemRaw.ToIDispatch(), nil
}

// callGet invokes a method on the Get object and returns its numeric
// result.
func (s *wmiSession) callGet(method string) (float64, error) {
	raw, err := oleutil.CallMethod(s.getObj, method)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", method, err)
	}
	defer raw.Clear()
	return variantToFloat(raw)
}

// callSet invokes a method on the Set object. The firmware expects the
// Data argument as a float.
func (s *wmiSession) callSet(method string, data float64) error {
	raw, err := oleutil.CallMethod(s.setObj, method, data)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	raw.Clear()
	return nil
}

func variantToFloat(v *ole.VARIANT) (float64, error) {
	switch value := v.Value().(type) {
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case int32:
		return float64(value), nil
	case int16:
		return float64(value), nil
	case int8:
		return float64(value), nil
	case uint64:
		return float64(value), nil
	case uint32:
		return float64(value), nil
	case uint16:
		return float64(value), nil
	case uint8:
		return float64(value), nil
	default:
		return 0, fmt.Errorf("unexpected variant type %T", value)
	}
}

func boolFlag(on bool) float64 {
	if on {
		return 1
	}
	return 0
}

func (s *wmiSession) GetCPUTemp() (float64, error) {
	return s.callGet("getCpuTemp")
}

func (s *wmiSession) GetGPUTemp1() (float64, error) {
	return s.callGet("getGpuTemp1")
}

func (s *wmiSession) GetGPUTemp2() (float64, error) {
	return s.callGet("getGpuTemp2")
}

func (s *wmiSession) GetRPM(ch FanChannel) (uint16, error) {
	method := "getRpm1"
	if ch == Fan2 {
		method = "getRpm2"
	}
	v, err := s.callGet(method)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 65535 {
		return 0, fmt.Errorf("%w: rpm word %v", ErrRead, v)
	}
	return uint16(v), nil
}

func (s *wmiSession) GetChargePolicy() (int, error) {
	v, err := s.callGet("GetChargePolicy")
	return int(v), err
}

func (s *wmiSession) GetChargeStop() (int, error) {
	v, err := s.callGet("GetChargeStop")
	return int(v), err
}

func (s *wmiSession) SetFixedFanStatus(on bool) error {
	return s.callSet("SetFixedFanStatus", boolFlag(on))
}

func (s *wmiSession) SetSuperQuiet(on bool) error {
	return s.callSet("SetSuperQuiet", boolFlag(on))
}

func (s *wmiSession) SetAutoFanStatus(on bool) error {
	return s.callSet("SetAutoFanStatus", boolFlag(on))
}

func (s *wmiSession) SetStepFanStatus(on bool) error {
	return s.callSet("SetStepFanStatus", boolFlag(on))
}

func (s *wmiSession) SetFixedFanSpeed(raw float64) error {
	return s.callSet("SetFixedFanSpeed", raw)
}

func (s *wmiSession) SetGPUFanDuty(raw float64) error {
	return s.callSet("SetGPUFanDuty", raw)
}

func (s *wmiSession) SetChargePolicy(code int) error {
	return s.callSet("SetChargePolicy", float64(code))
}

func (s *wmiSession) SetChargeStop(percent int) error {
	return s.callSet("SetChargeStop", float64(percent))
}

// Close releases every COM object and the apartment exactly once.
func (s *wmiSession) Close() error {
	s.release()
	return nil
}

func (s *wmiSession) release() {
	if s.setObj != nil {
		s.setObj.Release()
		s.setObj = nil
	}
	if s.getObj != nil {
		s.getObj.Release()
		s.getObj = nil
	}
	if s.service != nil {
		s.service.Release()
		s.service = nil
	}
	if s.locator != nil {
		s.locator.Release()
		s.locator = nil
	}
	ole.CoUninitialize()
	runtime.UnlockOSThread()
}
