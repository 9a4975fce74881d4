package hwio

import "math"

// Device protocol constants. These must match the firmware exactly; see
// the reference GB_WMIACPI interface.
const (
	// RawDutyMax is the device's maximum raw fan duty unit.
	RawDutyMax = 229

	// rpmNoiseFloor: corrected tachometer readings at or below this value
	// report as 0 RPM.
	rpmNoiseFloor = 50

	// Valid temperatures lie strictly inside (tempMin, tempMax).
	tempMin = 0
	tempMax = 150
)

// PercentToRaw converts a duty percentage to the device's raw unit. The
// percentage is clamped to [0, 100] first; the result is rounded up so any
// non-zero request yields a non-zero duty.
func PercentToRaw(percent int) float64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return math.Ceil(float64(percent) / 100.0 * RawDutyMax)
}

// correctRPM swaps the high and low byte of the 16-bit tachometer word and
// suppresses the noise floor. The firmware reports the word byte-swapped.
func correctRPM(raw uint16) int {
	corrected := int(raw&0xFF)<<8 | int(raw>>8)
	if corrected <= rpmNoiseFloor {
		return 0
	}
	return corrected
}

// validTemperature reports whether a reading lies inside the protocol's
// open validity interval. Out-of-range values (including the firmware's
// own error sentinels) are never forwarded as data.
func validTemperature(v float64) bool {
	return !math.IsNaN(v) && v > tempMin && v < tempMax
}
