package userlib_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exok/internal/envtab"
	"exok/internal/kernel"
	"exok/internal/mmu"
	"exok/internal/userlib"
)

const testTimeout = 2 * time.Second

func newTestKernel(ipcMode kernel.IPCMode) *kernel.Kernel {
	return kernel.New(kernel.Config{NumCPU: 4, IPCMode: ipcMode, Discipline: kernel.FineGrained})
}

// Environment goroutines must never call require/t.Fatal themselves —
// FailNow is only safe from the goroutine running the test — so every
// Program below reports its outcome on a channel and only the test
// goroutine asserts on it.

func TestExoforkProducesDistinctRunningChild(t *testing.T) {
	k := newTestKernel(kernel.IPCQueued)
	done := make(chan envtab.ID, 1)

	_, err := k.Spawn(0, func(kk *kernel.Kernel, self envtab.ID) {
		h := userlib.New(kk, self)
		childID, ferr := h.Exofork()
		if ferr != nil {
			return
		}
		if serr := h.SetStatus(childID, envtab.Runnable); serr != nil {
			return
		}
		if childID == self {
			return
		}
		kk.Resume(childID, func(kk2 *kernel.Kernel, id envtab.ID) {
			done <- id
		})
	})
	require.NoError(t, err)

	select {
	case childID := <-done:
		assert.NotZero(t, childID)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for resumed child to run")
	}
}

func TestIPCTrySendValueOnlyQueuedMode(t *testing.T) {
	k := newTestKernel(kernel.IPCQueued)
	recvIDs := make(chan envtab.ID, 1)
	type result struct {
		from  envtab.ID
		value uint32
		err   error
	}
	results := make(chan result, 1)

	_, err := k.Spawn(0, func(kk *kernel.Kernel, self envtab.ID) {
		recvIDs <- self
		h := userlib.New(kk, self)
		from, value, _, rerr := h.IPCRecv(mmu.UTOP) // UTOP means "no page wanted"
		results <- result{from: from, value: value, err: rerr}
	})
	require.NoError(t, err)

	var receiverID envtab.ID
	select {
	case receiverID = <-recvIDs:
	case <-time.After(testTimeout):
		t.Fatal("receiver never started")
	}

	senderID, err := k.Spawn(0, func(kk *kernel.Kernel, self envtab.ID) {
		h := userlib.New(kk, self)
		_ = h.Send(receiverID, 99, mmu.UTOP, 0)
	})
	require.NoError(t, err)

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, uint32(99), r.value)
		assert.Equal(t, senderID, r.from)
	case <-time.After(testTimeout):
		t.Fatal("receiver never got a value")
	}
}

func TestIPCTrySendCarriesPage(t *testing.T) {
	k := newTestKernel(kernel.IPCQueued)
	const srcva = 0x1000000
	const dstva = 0x2000000

	recvIDs := make(chan envtab.ID, 1)
	type result struct {
		from  envtab.ID
		value uint32
		data  []byte
		err   error
	}
	results := make(chan result, 1)

	_, err := k.Spawn(0, func(kk *kernel.Kernel, self envtab.ID) {
		recvIDs <- self
		h := userlib.New(kk, self)
		from, value, perm, rerr := h.IPCRecv(dstva)
		if rerr != nil {
			results <- result{err: rerr}
			return
		}
		if perm&mmu.PteP == 0 {
			results <- result{from: from, value: value}
			return
		}
		buf := make([]byte, 5)
		rerr = h.Read(dstva, buf)
		results <- result{from: from, value: value, data: buf, err: rerr}
	})
	require.NoError(t, err)

	var receiverID envtab.ID
	select {
	case receiverID = <-recvIDs:
	case <-time.After(testTimeout):
		t.Fatal("receiver never started")
	}

	_, err = k.Spawn(0, func(kk *kernel.Kernel, self envtab.ID) {
		h := userlib.New(kk, self)
		if aerr := h.PageAlloc(0, srcva, mmu.PteU|mmu.PteW|mmu.PteP); aerr != nil {
			return
		}
		if werr := h.Write(srcva, []byte("hello")); werr != nil {
			return
		}
		_ = h.Send(receiverID, 7, srcva, mmu.PteU|mmu.PteP)
	})
	require.NoError(t, err)

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, uint32(7), r.value)
		assert.Equal(t, []byte("hello"), r.data)
	case <-time.After(testTimeout):
		t.Fatal("receiver never got the page")
	}
}

func TestForkGivesChildAPrivateStackCopy(t *testing.T) {
	k := newTestKernel(kernel.IPCQueued)
	const stackVA = mmu.USTACKTOP - mmu.PageSize

	type outcome struct {
		who  string
		data []byte
		err  error
	}
	outcomes := make(chan outcome, 2)

	_, err := k.Spawn(0, func(kk *kernel.Kernel, self envtab.ID) {
		h := userlib.New(kk, self)
		if aerr := h.PageAlloc(0, stackVA, mmu.PteU|mmu.PteW|mmu.PteP); aerr != nil {
			outcomes <- outcome{who: "parent", err: aerr}
			return
		}
		if werr := h.Write(stackVA, []byte("parent")); werr != nil {
			outcomes <- outcome{who: "parent", err: werr}
			return
		}

		_, ferr := h.Fork(func(child *userlib.Handle) {
			if werr := child.Write(stackVA, []byte("child!")); werr != nil {
				outcomes <- outcome{who: "child", err: werr}
				return
			}
			buf := make([]byte, 6)
			rerr := child.Read(stackVA, buf)
			outcomes <- outcome{who: "child", data: buf, err: rerr}
		})
		if ferr != nil {
			outcomes <- outcome{who: "parent", err: ferr}
			return
		}

		buf := make([]byte, 6)
		rerr := h.Read(stackVA, buf)
		outcomes <- outcome{who: "parent", data: buf, err: rerr}
	})
	require.NoError(t, err)

	seen := map[string][]byte{}
	for i := 0; i < 2; i++ {
		select {
		case o := <-outcomes:
			require.NoError(t, o.err)
			seen[o.who] = o.data
		case <-time.After(testTimeout):
			t.Fatalf("timed out, got %d of 2 outcomes", i)
		}
	}
	assert.Equal(t, []byte("parent"), seen["parent"])
	assert.Equal(t, []byte("child!"), seen["child"])
}

func TestForkSharesCopyOnWriteHeapUntilWritten(t *testing.T) {
	k := newTestKernel(kernel.IPCQueued)
	const stackVA = mmu.USTACKTOP - mmu.PageSize
	const heapVA = mmu.USTACKTOP - 2*mmu.PageSize

	type outcome struct {
		who  string
		data []byte
		err  error
	}
	outcomes := make(chan outcome, 2)

	_, err := k.Spawn(0, func(kk *kernel.Kernel, self envtab.ID) {
		h := userlib.New(kk, self)
		if aerr := h.PageAlloc(0, stackVA, mmu.PteU|mmu.PteW|mmu.PteP); aerr != nil {
			outcomes <- outcome{who: "parent", err: aerr}
			return
		}
		if aerr := h.PageAlloc(0, heapVA, mmu.PteU|mmu.PteW|mmu.PteP); aerr != nil {
			outcomes <- outcome{who: "parent", err: aerr}
			return
		}
		if werr := h.Write(heapVA, []byte("shared")); werr != nil {
			outcomes <- outcome{who: "parent", err: werr}
			return
		}

		// triggers the COW fault handler, mapping a private writable copy
		_, ferr := h.Fork(func(child *userlib.Handle) {
			if werr := child.Write(heapVA, []byte("mutate")); werr != nil {
				outcomes <- outcome{who: "child", err: werr}
				return
			}
			buf := make([]byte, 6)
			rerr := child.Read(heapVA, buf)
			outcomes <- outcome{who: "child", data: buf, err: rerr}
		})
		if ferr != nil {
			outcomes <- outcome{who: "parent", err: ferr}
			return
		}

		buf := make([]byte, 6)
		rerr := h.Read(heapVA, buf)
		outcomes <- outcome{who: "parent", data: buf, err: rerr}
	})
	require.NoError(t, err)

	seen := map[string][]byte{}
	for i := 0; i < 2; i++ {
		select {
		case o := <-outcomes:
			require.NoError(t, o.err)
			seen[o.who] = o.data
		case <-time.After(testTimeout):
			t.Fatalf("timed out, got %d of 2 outcomes", i)
		}
	}
	assert.Equal(t, []byte("shared"), seen["parent"])
	assert.Equal(t, []byte("mutate"), seen["child"])
}
