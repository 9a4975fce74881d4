//go:build !windows

package hwio

import (
	"fmt"

	"github.com/rs/zerolog"
)

// The vendor ACPI-WMI interface only exists on Windows; other platforms
// fall back to the simulated backend.
func newWMIOpener(BackendConfig, zerolog.Logger) (OpenSessionFunc, error) {
	return nil, fmt.Errorf("hwio: wmi backend is only available on windows")
}
