package cloud

import "strconv"

// Command is an opaque command string sent verbatim to the cloud:
// an integer opcode, optionally followed by ",<integer parameter>".
type Command string

// Opcodes understood by the grill firmware.
const (
	OpSetTemperature      = 11
	OpSetTimer            = 12
	OpSetProbeTemperature = 14
	OpShutdown            = 17
	OpRequestState        = 90
)

// Switch is a bare opcode that toggles a named feature.
type Switch int

// Feature switch opcodes.
const (
	KeepWarmOn    Switch = 18
	KeepWarmOff   Switch = 19
	SuperSmokeOn  Switch = 20
	SuperSmokeOff Switch = 21
)

func opcode(op int) Command {
	return Command(strconv.Itoa(op))
}

func opcodeWith(op, param int) Command {
	return Command(strconv.Itoa(op) + "," + strconv.Itoa(param))
}

// RequestState asks the device to push its full state.
func RequestState() Command { return opcode(OpRequestState) }

// SetTemperature sets the grill target temperature, in the device's units.
func SetTemperature(temp int) Command { return opcodeWith(OpSetTemperature, temp) }

// SetProbeTemperature sets the probe target temperature.
func SetProbeTemperature(temp int) Command { return opcodeWith(OpSetProbeTemperature, temp) }

// SetTimer starts a countdown of the given number of seconds.
func SetTimer(seconds int) Command { return opcodeWith(OpSetTimer, seconds) }

// Shutdown starts the grill's shutdown sequence.
func Shutdown() Command { return opcode(OpShutdown) }

// SwitchCommand returns the command for a feature switch.
func SwitchCommand(s Switch) Command { return opcode(int(s)) }
