package hwio

// Op identifies one supported hardware operation. The set is closed:
// the worker matches it exhaustively, so an unknown action cannot exist as
// a runtime error class.
type Op uint8

const (
	// OpReadCPUTemp reads the CPU temperature sensor.
	OpReadCPUTemp Op = iota
	// OpReadGPUTemp reads the GPU temperature (max of available sensors).
	OpReadGPUTemp
	// OpReadFanRPM reads the rotation speed of one fan channel.
	OpReadFanRPM
	// OpReadChargePolicy reads the battery charge policy code.
	OpReadChargePolicy
	// OpWriteChargePolicy writes the battery charge policy code.
	OpWriteChargePolicy
	// OpReadChargeStop reads the charge-stop percentage.
	OpReadChargeStop
	// OpWriteChargeStop writes the charge-stop percentage.
	OpWriteChargeStop
	// OpConfigureManualFan runs the ordered flag sequence that hands fan
	// duty control to software.
	OpConfigureManualFan
	// OpConfigureFirmwareFan runs the ordered flag sequence that hands fan
	// control back to the firmware.
	OpConfigureFirmwareFan
	// OpWriteFanDuty writes a raw duty value to both fan channels.
	OpWriteFanDuty

	// opDrain is the internal sentinel that moves the worker to Draining.
	opDrain
)

// String names the operation for logs and metric labels.
func (o Op) String() string {
	switch o {
	case OpReadCPUTemp:
		return "read_cpu_temp"
	case OpReadGPUTemp:
		return "read_gpu_temp"
	case OpReadFanRPM:
		return "read_fan_rpm"
	case OpReadChargePolicy:
		return "read_charge_policy"
	case OpWriteChargePolicy:
		return "write_charge_policy"
	case OpReadChargeStop:
		return "read_charge_stop"
	case OpWriteChargeStop:
		return "write_charge_stop"
	case OpConfigureManualFan:
		return "configure_manual_fan"
	case OpConfigureFirmwareFan:
		return "configure_firmware_fan"
	case OpWriteFanDuty:
		return "write_fan_duty"
	case opDrain:
		return "drain"
	}
	return "unknown"
}

// FanChannel selects one of the two fan tachometer channels.
type FanChannel uint8

const (
	// Fan1 is the CPU-side fan channel.
	Fan1 FanChannel = 1
	// Fan2 is the GPU-side fan channel.
	Fan2 FanChannel = 2
)

type result struct {
	value float64
	err   error
}

// request pairs an operation with its parameters and a single-use reply
// slot. The slot buffer holds exactly one result; the worker never blocks
// on it.
type request struct {
	op      Op
	channel FanChannel
	value   float64
	reply   chan result
}
