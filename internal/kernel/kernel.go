// Package kernel is the privileged core: the syscall dispatcher, the
// environment scheduler, synchronous IPC, and page-fault upcall delivery.
// Every other package in this module is either something the kernel
// dispatches to (mmu, envtab, nic) or something that calls into it
// (userlib, monitor).
package kernel

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"exok/internal/envtab"
	"exok/internal/mmu"
	"exok/internal/nic"
	"exok/internal/spinlock"
)

// Discipline selects how the kernel serializes access to environment state.
type Discipline int

const (
	// BigLock takes one global spinlock in the syscalls that go through
	// lockEnvs: env_destroy, yield, env_set_status, env_set_trapframe and
	// env_set_pgfault_upcall. The page, exofork, IPC, console, time and net
	// syscalls run without it.
	BigLock Discipline = iota
	// FineGrained takes, in those same syscalls, only the locks of the
	// environments the syscall touches, in ascending slot-index order, so
	// unrelated environments can run them concurrently.
	FineGrained
)

// String renders the discipline name for logging.
func (d Discipline) String() string {
	if d == FineGrained {
		return "fine-grained"
	}
	return "big-lock"
}

// IPCMode selects the rendezvous behavior of sys_ipc_try_send.
type IPCMode int

const (
	// IPCBaseline fails immediately with IPCNotRecv if the target isn't
	// already blocked in ipc_recv — the original kernel's behavior.
	IPCBaseline IPCMode = iota
	// IPCQueued enqueues the sender on the target's pending list and
	// blocks until a matching receive consumes it, instead of failing.
	IPCQueued
)

// String renders the IPC mode name for logging.
func (m IPCMode) String() string {
	if m == IPCQueued {
		return "queued"
	}
	return "baseline"
}

// Config configures a Kernel at construction time. Zero values pick a
// single-CPU, big-kernel-lock, baseline-IPC kernel with no NIC.
type Config struct {
	Discipline Discipline
	IPCMode    IPCMode
	NumCPU     int
	PageCap    int // 0 means unbounded
	NIC        *nic.Device
	Console    consoleReader
	Log        *logrus.Logger
}

// Kernel owns the environment table, the physical page allocator, the
// scheduler's admission semaphore, and the locking/IPC disciplines
// selected for this instance.
type Kernel struct {
	Envs  *envtab.Table
	Pages *mmu.Allocator
	NIC   *nic.Device
	Log   *logrus.Logger

	discipline Discipline
	ipcMode    IPCMode
	big        *spinlock.Lock
	sched      *scheduler
	console    consoleReader
	clock      *clock

	// ipc is the condition variable consulted by blocked receivers and,
	// in queued mode, blocked senders: a rendezvous completing broadcasts
	// so every waiter re-checks its own condition.
	ipcMu   sync.Mutex
	ipcCond *sync.Cond
}

// consoleReader is the non-blocking single-character read sys_cgetc needs.
// internal/console's Console satisfies this; kept as an interface here so
// kernel doesn't import a terminal-raw-mode package it can't use headless.
type consoleReader interface {
	GetC() byte
}

// New constructs a Kernel from cfg.
func New(cfg Config) *Kernel {
	ncpu := cfg.NumCPU
	if ncpu <= 0 {
		ncpu = 1
	}
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}
	k := &Kernel{
		Envs:       envtab.NewTable(),
		Pages:      mmu.NewAllocator(cfg.PageCap),
		NIC:        cfg.NIC,
		Log:        log,
		discipline: cfg.Discipline,
		ipcMode:    cfg.IPCMode,
		big:        spinlock.New("kernel"),
		sched:      newScheduler(ncpu),
		console:    cfg.Console,
		clock:      newClock(),
	}
	k.ipcCond = sync.NewCond(&k.ipcMu)
	return k
}

// Discipline reports the locking discipline this kernel was built with.
func (k *Kernel) Discipline() Discipline { return k.discipline }

// IPCModeOf reports the IPC rendezvous mode this kernel was built with.
func (k *Kernel) IPCModeOf() IPCMode { return k.ipcMode }

// Uptime reports how long this kernel has been running.
func (k *Kernel) Uptime() time.Duration { return time.Duration(k.clock.elapsedMsec()) * time.Millisecond }

// LiveEnvs counts environments not currently FREE.
func (k *Kernel) LiveEnvs() int {
	n := 0
	k.Envs.Range(func(e *envtab.Env) {
		if e.Status != envtab.Free {
			n++
		}
	})
	return n
}

// owner derives the spinlock holder tag for an environment id. IDs are
// never zero for a real environment (generation 0 is reserved), so this
// never collides with the unheld-lock sentinel of 0.
func owner(id envtab.ID) int64 { return int64(id) }

// lockEnvs acquires the locks guarding es under the kernel's discipline,
// deduplicated and ordered by ascending slot index regardless of call
// order, so any two callers take shared locks in the same order (slot
// order, not caller-then-peer order). Returns the unlock function to defer.
func (k *Kernel) lockEnvs(by envtab.ID, es ...*envtab.Env) func() {
	if k.discipline == BigLock {
		k.big.Lock(owner(by))
		return func() { k.big.Unlock(owner(by)) }
	}

	uniq := make([]*envtab.Env, 0, len(es))
	seen := map[int]bool{}
	for _, e := range es {
		if e == nil || seen[e.Index] {
			continue
		}
		seen[e.Index] = true
		uniq = append(uniq, e)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].Index < uniq[j].Index })
	for _, e := range uniq {
		e.Lock.Lock(owner(by))
	}
	return func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			uniq[i].Lock.Unlock(owner(by))
		}
	}
}

// newEnvLock returns the fine-grained lock an Env should carry, or nil
// under the big-lock discipline.
func (k *Kernel) newEnvLock(id envtab.ID) *spinlock.Lock {
	if k.discipline == BigLock {
		return nil
	}
	return spinlock.New("env")
}
