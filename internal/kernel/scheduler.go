package kernel

import (
	"runtime"

	"exok/internal/envtab"
	"exok/internal/mmu"
)

// scheduler bounds how many environments may be RUNNING at once to NumCPU,
// standing in for the per-CPU run queues a real kernel walks in sched_yield.
// It deliberately implements only admission control, not a scheduling
// policy: which runnable environment gets the next free slot is whichever
// goroutine's acquire wins the race, since fairness and preemption policy
// are out of scope here.
type scheduler struct {
	slots chan struct{}
}

func newScheduler(ncpu int) *scheduler {
	return &scheduler{slots: make(chan struct{}, ncpu)}
}

// acquire blocks until a CPU slot is free.
func (s *scheduler) acquire() { s.slots <- struct{}{} }

// release gives up a CPU slot. Called when a Program returns and at the
// three voluntary suspension points: yield, a blocking ipc_recv, and (in
// queued IPC mode) a blocking ipc_try_send. There is no timer interrupt in
// this kernel, so a program that never reaches one of those points simply
// keeps its slot.
func (s *scheduler) release() { <-s.slots }

// Program is the Go analogue of an environment's ELF entry point: the
// function an environment goroutine runs once admitted to a CPU slot. Self
// is the environment's own id, handed back so the caller can build a
// syscall-client handle bound to it without the kernel importing userlib.
type Program func(k *Kernel, self envtab.ID)

// Spawn allocates a fresh environment as parent's child, sets it runnable,
// and starts its goroutine. The goroutine blocks acquiring a CPU slot
// before running prog, and the environment is destroyed when prog returns.
func (k *Kernel) Spawn(parent envtab.ID, prog Program) (envtab.ID, error) {
	e, err := k.Envs.Alloc(parent)
	if err != nil {
		return 0, err
	}
	e.Lock = k.newEnvLock(e.ID)
	e.AddrSpace = mmu.NewAddressSpace()
	e.Status = envtab.Runnable
	k.Resume(e.ID, prog)
	return e.ID, nil
}

// Resume starts a goroutine running prog against an already-allocated
// environment id. exofork-based forking uses this: the child's table slot
// and address space are built by the parent's syscalls before the child is
// marked RUNNABLE, and only then does something need to actually run its
// code — standing in for env_run jumping to the child's saved EIP the
// first time the scheduler picks it.
func (k *Kernel) Resume(id envtab.ID, prog Program) {
	go func() {
		k.sched.acquire()
		e := k.Envs.Slot(id.Index())
		e.Status = envtab.Running
		prog(k, id)
		k.destroy(id, id)
		k.sched.release()
	}()
}

// yieldCPU releases caller's CPU slot, lets another goroutine run, and
// reacquires a slot before resuming — sys_yield's sched_yield, minus any
// scheduling policy.
func (k *Kernel) yieldCPU() {
	k.sched.release()
	runtime.Gosched()
	k.sched.acquire()
}
