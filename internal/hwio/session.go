package hwio

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Session is an open connection to the vendor management interface. A
// session is owned exclusively by the worker goroutine that opened it and
// must never be touched from any other goroutine. Implementations do not
// need to be safe for concurrent use.
//
// The method set mirrors the GB_WMIACPI method surface of the reference
// protocol; value validation and byte-order correction happen above this
// interface in the worker.
type Session interface {
	GetCPUTemp() (float64, error)
	GetGPUTemp1() (float64, error)
	GetGPUTemp2() (float64, error)
	GetRPM(ch FanChannel) (uint16, error)
	GetChargePolicy() (int, error)
	GetChargeStop() (int, error)

	SetFixedFanStatus(on bool) error
	SetSuperQuiet(on bool) error
	SetAutoFanStatus(on bool) error
	SetStepFanStatus(on bool) error
	SetFixedFanSpeed(raw float64) error
	SetGPUFanDuty(raw float64) error
	SetChargePolicy(code int) error
	SetChargeStop(percent int) error

	Close() error
}

// OpenSessionFunc opens a session. It runs on the worker goroutine so that
// backends with thread-affine setup (COM apartments) initialize on the
// goroutine that will use them.
type OpenSessionFunc func() (Session, error)

// BackendConfig selects a session backend.
type BackendConfig struct {
	Backend  string
	GetClass string
	SetClass string
}

// NewSessionOpener resolves the configured backend name to an opener.
func NewSessionOpener(cfg BackendConfig, logger zerolog.Logger) (OpenSessionFunc, error) {
	switch cfg.Backend {
	case "sim":
		return func() (Session, error) {
			return openSimSession(logger)
		}, nil
	case "wmi":
		return newWMIOpener(cfg, logger)
	default:
		return nil, fmt.Errorf("hwio: unknown session backend %q", cfg.Backend)
	}
}
