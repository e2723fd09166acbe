// Package envtab is the fixed environment table: a flat array of slots
// addressed by generation-tagged ID, with allocation, freeing, and
// permission-checked id-to-slot translation.
package envtab

import (
	"exok/internal/mmu"
	"exok/internal/spinlock"
	"exok/internal/trapframe"
)

// Status is an environment's lifecycle state.
type Status int

const (
	Free Status = iota
	Dying
	Runnable
	NotRunnable
	Running
)

func (s Status) String() string {
	switch s {
	case Free:
		return "FREE"
	case Dying:
		return "DYING"
	case Runnable:
		return "RUNNABLE"
	case NotRunnable:
		return "NOT_RUNNABLE"
	case Running:
		return "RUNNING"
	default:
		return "UNKNOWN"
	}
}

// NoID marks the end of the pending-sender list and "not enqueued
// anywhere", distinct from ID(0) which is the syscall alias for "the
// caller".
const NoID = ID(^uint32(0))

// Env is one environment slot. Only the table's own lock (or, in
// fine-grained mode, this env's Lock) guards mutation of the fields below.
type Env struct {
	ID     ID
	Parent ID
	Status Status
	Index  int

	TF             trapframe.Trapframe
	AddrSpace      *mmu.AddressSpace
	PgFaultUpcall  func(*trapframe.UTrapframe)
	OnExceptionStk bool // true while currently executing on the exception stack

	// Lock is this env's fine-grained lock. Nil when the kernel was built
	// with the big-kernel-lock discipline.
	Lock *spinlock.Lock

	// IPC receive-side state.
	Recving bool
	DstVA   uint32
	From    ID
	Value   uint32
	Perm    uint32

	// Pending-sender queue, as receiver: intrusive, index-valued links.
	// Head/Tail name the first/last enqueued sender's ID.
	QueueHead ID
	QueueTail ID

	// Pending-sender state, as sender: populated when this env is
	// enqueued on someone else's queue (queued IPC mode only).
	PendingValue uint32
	PendingPage  *mmu.Page
	PendingPerm  uint32
	PendingNext  ID
	WaitingOn    ID // NoID unless enqueued as a sender right now
}

// newEnv allocates a fresh Env value for slot index; callers (Table.Alloc)
// fill in ID/Parent/Status.
func newEnv(index int) *Env {
	return &Env{
		Index:       index,
		QueueHead:   NoID,
		QueueTail:   NoID,
		PendingNext: NoID,
		WaitingOn:   NoID,
	}
}
