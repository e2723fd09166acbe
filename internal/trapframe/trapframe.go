// Package trapframe defines the saved register image and the page-fault
// exception frame as plain data values — no vtables or dispatch on shape,
// just a struct copied whole between environment slots.
package trapframe

// NumRegs mirrors the general-purpose register count saved in a real x86
// trap frame (eax, ebx, ecx, edx, esi, edi, ebp... here indexed 0..7).
const NumRegs = 8

// RetvalReg is the register the ABI reads a syscall's return value from
// and the register exofork/ipc force to 0 for the resumed/child env.
const RetvalReg = 0

// Trapframe is the full saved register image for one environment: general
// registers, instruction pointer, stack pointer, flags, and segment
// selectors, copied whole between slots as in the real kernel.
type Trapframe struct {
	Regs   [NumRegs]uint32
	EIP    uint32
	ESP    uint32
	EFlags uint32
	CS     uint32
	SS     uint32
}

// ForceUserMode clamps cs/eflags/iopl the way env_set_trapframe does:
// user code segment, interrupts enabled, IOPL 0.
func (tf *Trapframe) ForceUserMode() {
	const (
		flIF    = 1 << 9
		cplUser = 3
	)
	tf.CS |= cplUser
	tf.EFlags |= flIF
	tf.EFlags &^= (0x3 << 12) // IOPL bits
}

// UTrapframe is the exception-stack frame built on a user page fault: the
// faulting address, the error code, and the full interrupted register
// image.
type UTrapframe struct {
	FaultVA uint32
	Err     uint32
	Saved   Trapframe
}

// Error code bits carried in UTrapframe.Err (FEC_*).
const (
	FecWR uint32 = 1 << 1 // fault was caused by a write
)
