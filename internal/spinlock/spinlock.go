// Package spinlock implements a test-and-set mutual-exclusion lock: an
// atomic exchange-1 to acquire, an atomic store-0 to release, with optional
// holder/backtrace debugging that panics on reacquisition or
// release-without-holding.
package spinlock

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// backtraceDepth mirrors spinlock.c's pcs[10].
const backtraceDepth = 10

// Debug enables holder/backtrace tracking and the fatal reacquire/release
// checks. It is a package variable rather than a build-time #define so
// tests can exercise both modes; production builds set it once at startup.
var Debug = true

// Lock is a mutual-exclusion spin lock. The zero value is an unlocked lock
// with no name; use New for a named one.
type Lock struct {
	locked int32

	name   string
	holder int64 // goroutine id substitute: holder's owner tag, 0 = unheld
	pcs    [backtraceDepth]uintptr
}

// New returns a named, unlocked lock (spin_initlock).
func New(name string) *Lock {
	return &Lock{name: name}
}

// Holding reports whether owner currently holds lk (spinlock.c's holding(),
// generalized: the real kernel compares against "this CPU", we compare
// against a caller-supplied owner tag since Go has no cheap CPU-id).
func (lk *Lock) Holding(owner int64) bool {
	return atomic.LoadInt32(&lk.locked) != 0 && (!Debug || atomic.LoadInt64(&lk.holder) == owner)
}

// Lock acquires lk, spinning with a CPU pause hint while contended. owner
// identifies the acquirer for debug tracking and must be non-zero.
func (lk *Lock) Lock(owner int64) {
	if Debug && lk.Holding(owner) {
		panic(fmt.Sprintf("spinlock %q: owner %d cannot reacquire: already holding", lk.name, owner))
	}

	for !atomic.CompareAndSwapInt32(&lk.locked, 0, 1) {
		runtime.Gosched() // the pause hint: yield this goroutine's slice
	}

	if Debug {
		atomic.StoreInt64(&lk.holder, owner)
		lk.recordCallers()
	}
}

// TryLock attempts to acquire lk without blocking, returning true on
// success.
func (lk *Lock) TryLock(owner int64) bool {
	if !atomic.CompareAndSwapInt32(&lk.locked, 0, 1) {
		return false
	}
	if Debug {
		atomic.StoreInt64(&lk.holder, owner)
		lk.recordCallers()
	}
	return true
}

// Unlock releases lk. owner must be the current holder in Debug mode, else
// Unlock panics, reporting the backtrace recorded at acquisition time.
func (lk *Lock) Unlock(owner int64) {
	if Debug {
		if atomic.LoadInt32(&lk.locked) == 0 || atomic.LoadInt64(&lk.holder) != owner {
			panic(fmt.Sprintf("spinlock %q: owner %d cannot release: held by %d, acquired at %v",
				lk.name, owner, atomic.LoadInt64(&lk.holder), lk.pcs))
		}
		atomic.StoreInt64(&lk.holder, 0)
	}
	atomic.StoreInt32(&lk.locked, 0)
}

func (lk *Lock) recordCallers() {
	n := runtime.Callers(2, lk.pcs[:])
	for i := n; i < backtraceDepth; i++ {
		lk.pcs[i] = 0
	}
}

// Name returns the lock's debug name.
func (lk *Lock) Name() string { return lk.name }
