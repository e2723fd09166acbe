// Package jerrors defines the kernel's negative-integer error codes.
//
// Every syscall in the exokernel ABI returns zero or a positive value on
// success and a small negative code on failure. Go code inside the kernel
// works with the typed Error values below; the ABI-facing dispatcher
// collapses them to their Errno for the wire return value.
package jerrors

import "fmt"

// Errno is one of the kernel-visible error codes.
type Errno int32

const (
	// BadEnv: envid doesn't currently exist, or the caller lacks permission.
	BadEnv Errno = -1
	// Inval: an argument is out of range, misaligned, or otherwise invalid.
	Inval Errno = -2
	// NoMem: the physical page allocator is exhausted.
	NoMem Errno = -3
	// NoFreeEnv: the environment table has no free slot.
	NoFreeEnv Errno = -4
	// IPCNotRecv: the IPC target is not blocked in ipc_recv.
	IPCNotRecv Errno = -5
	// Unspecified is the "caller is no longer runnable" sentinel: returned
	// when a syscall destroys its own caller (a failed user-memory check,
	// an unhandled page fault), and by ToErrno for errors that are not an
	// *Error.
	Unspecified Errno = -6
)

func (e Errno) String() string {
	switch e {
	case BadEnv:
		return "bad environment"
	case Inval:
		return "invalid argument"
	case NoMem:
		return "out of memory"
	case NoFreeEnv:
		return "no free environment"
	case IPCNotRecv:
		return "target not receiving"
	case Unspecified:
		return "unspecified (caller no longer runnable)"
	default:
		return fmt.Sprintf("errno(%d)", int32(e))
	}
}

// Error wraps an Errno so kernel code can use ordinary Go error handling
// while the ABI boundary still sees a plain negative int32.
type Error struct {
	Errno Errno
}

func (e *Error) Error() string { return e.Errno.String() }

// New wraps code in an *Error.
func New(code Errno) error { return &Error{Errno: code} }

// ToErrno collapses err into its ABI return value: 0 for nil, the wrapped
// Errno for a *Error, or Unspecified for anything else unexpected.
func ToErrno(err error) int32 {
	if err == nil {
		return 0
	}
	if e, ok := err.(*Error); ok {
		return int32(e.Errno)
	}
	return int32(Unspecified)
}

// Is reports whether err is the given Errno.
func Is(err error, code Errno) bool {
	e, ok := err.(*Error)
	return ok && e.Errno == code
}
