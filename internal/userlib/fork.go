package userlib

import (
	"exok/internal/envtab"
	"exok/internal/jerrors"
	"exok/internal/kernel"
	"exok/internal/mmu"
	"exok/internal/trapframe"
)

// pteCow marks copy-on-write page table entries — one of the bits
// explicitly reserved for software use (PteAvail).
const pteCow = mmu.PteCow

// copyPageTo allocates a fresh page in envid at va under perm and copies
// this environment's own page at va into it, the duppage helper's
// "stage through a temp mapping" trick collapsed to a direct page-to-page
// copy since both pages are ordinary Go memory here.
func (h *Handle) copyPageTo(envid envtab.ID, va uint32, perm uint32) error {
	as := h.K.AddressSpaceOf(h.Self)
	page, _, ok := as.Lookup(va)
	if !ok {
		return jerrors.New(jerrors.Inval)
	}
	if err := h.PageAlloc(envid, va, perm); err != nil {
		return err
	}
	dst := h.K.AddressSpaceOf(envid)
	newPage, _, _ := dst.Lookup(va)
	copy(newPage.Bytes()[:], page.Bytes()[:])
	return nil
}

// pgfault is the copy-on-write fault handler every forked environment
// installs: on a write to a PTE_COW page it maps in a private writable
// copy; anything else is unhandled and fatal.
func (h *Handle) pgfault(utf *trapframe.UTrapframe) {
	addr := utf.FaultVA
	pageVA := addr - addr%mmu.PageSize

	as := h.K.AddressSpaceOf(h.Self)
	if utf.Err&trapframe.FecWR == 0 || !kernel.IsCOWFault(as, pageVA, true) {
		h.Printf("pgfault: can't handle fault at %#x, eip %#x", addr, utf.Saved.EIP)
		h.Destroy(0)
		return
	}

	page, _, _ := as.Lookup(pageVA)
	if err := h.PageAlloc(0, pageVA, mmu.PteU|mmu.PteW|mmu.PteP); err != nil {
		h.Destroy(0)
		return
	}
	fresh, _, _ := as.Lookup(pageVA)
	copy(fresh.Bytes()[:], page.Bytes()[:])
}

// duppage maps this environment's page at va into envid at the same address:
// read-only pages are shared as-is, writable or already-COW pages become
// COW in both environments.
func (h *Handle) duppage(envid envtab.ID, va uint32) error {
	as := h.K.AddressSpaceOf(h.Self)
	_, perm, ok := as.Lookup(va)
	if !ok {
		return jerrors.New(jerrors.Inval)
	}
	if perm&pteCow == 0 && perm&mmu.PteW == 0 {
		return h.PageMap(0, va, envid, va, mmu.PteU|mmu.PteP)
	}
	if err := h.PageMap(0, va, envid, va, pteCow|mmu.PteU|mmu.PteP); err != nil {
		return err
	}
	return h.PageMap(0, va, 0, va, pteCow|mmu.PteU|mmu.PteP)
}

// Fork is the user-level copy-on-write fork: it installs the COW fault
// handler, creates a child via Exofork, maps every present page below the
// two stacks into the child via duppage (writable pages as copy-on-write in
// both, read-only pages shared read-only), gives the child a fresh
// (non-COW) normal stack and exception stack, and marks it runnable.
//
// A real fork() duplicates the calling process's stack and resumes both
// copies at the instruction right after the syscall, so the same function
// body plays both roles, told apart only by the zero-vs-nonzero return
// value. Go has no way to clone a goroutine's call stack, so Fork instead
// takes child explicitly: the continuation the new environment's goroutine
// runs. Passing the same closure for both the caller's continuation and
// child produces the traditional fork() shape; passing a different one
// gives an ordinary spawn-with-a-private-copy-of-my-memory.
//
// Returns the child's id.
func (h *Handle) Fork(child func(*Handle)) (envtab.ID, error) {
	if err := h.SetPgfaultUpcall(0, h.pgfault); err != nil {
		return 0, err
	}

	childID, err := h.Exofork()
	if err != nil {
		return 0, err
	}
	// pgfault is a method value: binding it off h would capture the
	// parent's Self, so the child's fault handler must be taken off a
	// handle of its own or every COW fault it takes would patch the
	// parent's address space instead of its own.
	childHandle := New(h.K, childID)

	as := h.K.AddressSpaceOf(h.Self)
	for _, va := range as.Mapped(mmu.USTACKTOP - mmu.PageSize) {
		if err := h.duppage(childID, va); err != nil {
			h.Destroy(childID)
			return 0, err
		}
	}

	if err := h.copyPageTo(childID, mmu.USTACKTOP-mmu.PageSize, mmu.PteU|mmu.PteW|mmu.PteP); err != nil {
		h.Destroy(childID)
		return 0, err
	}
	if err := h.PageAlloc(childID, mmu.UXSTACKTOP-mmu.PageSize, mmu.PteU|mmu.PteW|mmu.PteP); err != nil {
		h.Destroy(childID)
		return 0, err
	}
	if err := h.SetPgfaultUpcall(childID, childHandle.pgfault); err != nil {
		h.Destroy(childID)
		return 0, err
	}
	if err := h.SetStatus(childID, envtab.Runnable); err != nil {
		h.Destroy(childID)
		return 0, err
	}
	h.K.Resume(childID, func(k *kernel.Kernel, id envtab.ID) { child(New(k, id)) })
	return childID, nil
}

// SFork is the "sharing fork" challenge JOS left unfinished: like Fork,
// except writable pages are shared directly between parent and child
// instead of becoming copy-on-write, so both environments observe each
// other's writes to the heap and globals. Only the two per-environment
// stacks still get private copies, since sharing those would corrupt each
// environment's own call frames.
func (h *Handle) SFork(child func(*Handle)) (envtab.ID, error) {
	if err := h.SetPgfaultUpcall(0, h.pgfault); err != nil {
		return 0, err
	}

	childID, err := h.Exofork()
	if err != nil {
		return 0, err
	}
	// See the matching comment in Fork: the child's fault handler must be
	// bound off its own handle, not the parent's.
	childHandle := New(h.K, childID)

	as := h.K.AddressSpaceOf(h.Self)
	for _, va := range as.Mapped(mmu.USTACKTOP - mmu.PageSize) {
		_, perm, _ := as.Lookup(va)
		if err := h.PageMap(0, va, childID, va, perm&mmu.PteSyscall); err != nil {
			h.Destroy(childID)
			return 0, err
		}
	}

	if err := h.copyPageTo(childID, mmu.USTACKTOP-mmu.PageSize, mmu.PteU|mmu.PteW|mmu.PteP); err != nil {
		h.Destroy(childID)
		return 0, err
	}
	if err := h.PageAlloc(childID, mmu.UXSTACKTOP-mmu.PageSize, mmu.PteU|mmu.PteW|mmu.PteP); err != nil {
		h.Destroy(childID)
		return 0, err
	}
	if err := h.SetPgfaultUpcall(childID, childHandle.pgfault); err != nil {
		h.Destroy(childID)
		return 0, err
	}
	if err := h.SetStatus(childID, envtab.Runnable); err != nil {
		h.Destroy(childID)
		return 0, err
	}
	h.K.Resume(childID, func(k *kernel.Kernel, id envtab.ID) { child(New(k, id)) })
	return childID, nil
}
