package envtab

import (
	"sync"

	"exok/internal/jerrors"
)

// NENV is the fixed size of the environment table.
const NENV = 1024

// Table is the environment table plus its free list, guarded by its own
// lock: a third, independent lock alongside a caller-env's and a peer-env's.
type Table struct {
	mu      sync.Mutex
	slots   [NENV]*Env
	free    []int
	nextGen [NENV]uint32
}

// NewTable returns a table with every slot FREE.
func NewTable() *Table {
	t := &Table{free: make([]int, 0, NENV)}
	for i := 0; i < NENV; i++ {
		t.slots[i] = newEnv(i)
		t.free = append(t.free, NENV-1-i) // pop() from the tail returns index 0 first
	}
	return t
}

// Alloc transitions a FREE slot to NOT_RUNNABLE under a freshly minted ID
// and returns it, or NoFreeEnv if the table is full.
func (t *Table) Alloc(parent ID) (*Env, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.free) == 0 {
		return nil, jerrors.New(jerrors.NoFreeEnv)
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	e := t.slots[idx]
	t.nextGen[idx]++
	if t.nextGen[idx] == 0 {
		t.nextGen[idx] = 1 // generation 0 is reserved: no live ID may equal the caller alias 0
	}
	e.ID = MakeID(t.nextGen[idx], idx)
	e.Parent = parent
	e.Status = NotRunnable
	return e, nil
}

// Free returns slot idx to the free list, transitioning it to FREE, the
// terminal state after destroy.
func (t *Table) Free(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.slots[idx]
	e.Status = Free
	e.AddrSpace = nil
	e.PgFaultUpcall = nil
	e.Recving = false
	e.QueueHead, e.QueueTail = NoID, NoID
	e.WaitingOn = NoID
	e.PendingPage = nil
	t.free = append(t.free, idx)
}

// Translate resolves id to its Env, enforcing the same rules as JOS's
// envid2env: id 0 means "the caller" (self is resolved by the caller's own
// Env pointer, not looked up here); a stale generation or a FREE slot is
// BadEnv; if checkPerm is set, id must name the caller or one of its direct
// children.
func (t *Table) Translate(id ID, self *Env, checkPerm bool) (*Env, error) {
	if id == 0 {
		return self, nil
	}

	t.mu.Lock()
	e := t.slots[id.Index()]
	t.mu.Unlock()

	if e.Status == Free || e.ID != id {
		return nil, jerrors.New(jerrors.BadEnv)
	}
	if checkPerm && e != self && e.Parent != self.ID {
		return nil, jerrors.New(jerrors.BadEnv)
	}
	return e, nil
}

// Slot returns the raw slot at index idx without any permission check,
// used internally by the scheduler and by destroy's queue walk.
func (t *Table) Slot(idx int) *Env {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[idx]
}

// Range calls fn for every slot, in index order. fn must not call back
// into Table methods that take t.mu.
func (t *Table) Range(fn func(*Env)) {
	t.mu.Lock()
	snapshot := t.slots
	t.mu.Unlock()
	for i := range snapshot {
		fn(snapshot[i])
	}
}
