// Package userlib is the syscall-client side of the ABI: the thin wrapper
// functions lib/syscall.c provides over int 0x30, reimagined as ordinary
// method calls on a Handle bound to one environment. A kernel.Program
// receives the kernel and its own id and binds a Handle to them with New.
package userlib

import (
	"fmt"

	"exok/internal/envtab"
	"exok/internal/jerrors"
	"exok/internal/kernel"
	"exok/internal/mmu"
	"exok/internal/trapframe"
)

// Handle is one environment's syscall client, bound to its own id.
type Handle struct {
	K    *kernel.Kernel
	Self envtab.ID
}

// New binds a Handle to self. cmd/exokernel and tests call it at the start
// of each kernel.Program.
func New(k *kernel.Kernel, self envtab.ID) *Handle {
	return &Handle{K: k, Self: self}
}

// ID returns this environment's own id (sys_getenvid).
func (h *Handle) ID() envtab.ID { return h.K.GetEnvID(h.Self) }

// Cputs prints s to the console.
func (h *Handle) Cputs(s string) error { return h.K.Cputs(h.Self, s) }

// Printf is Cputs with fmt.Sprintf-style formatting, the convenience every
// JOS user program layers over cputs.
func (h *Handle) Printf(format string, args ...interface{}) error {
	return h.Cputs(fmt.Sprintf(format, args...))
}

// Cgetc reads one character from the console without blocking, 0 if none
// is waiting.
func (h *Handle) Cgetc() (byte, error) { return h.K.Cgetc(h.Self) }

// Destroy destroys envid (0 destroys the caller itself).
func (h *Handle) Destroy(envid envtab.ID) error { return h.K.EnvDestroy(h.Self, envid) }

// Yield gives up the rest of this environment's turn.
func (h *Handle) Yield() { h.K.Yield(h.Self) }

// Exofork allocates a NOT_RUNNABLE child with this environment's register
// image.
func (h *Handle) Exofork() (envtab.ID, error) { return h.K.Exofork(h.Self) }

// SetStatus sets envid's scheduling status.
func (h *Handle) SetStatus(envid envtab.ID, status envtab.Status) error {
	return h.K.EnvSetStatus(h.Self, envid, status)
}

// SetTrapframe overwrites envid's saved register image.
func (h *Handle) SetTrapframe(envid envtab.ID, tf trapframe.Trapframe) error {
	return h.K.EnvSetTrapframe(h.Self, envid, tf)
}

// SetPgfaultUpcall registers envid's page-fault handler.
func (h *Handle) SetPgfaultUpcall(envid envtab.ID, upcall func(*trapframe.UTrapframe)) error {
	return h.K.EnvSetPgfaultUpcall(h.Self, envid, upcall)
}

// PageAlloc allocates a fresh zeroed page and maps it at va in envid's
// address space.
func (h *Handle) PageAlloc(envid envtab.ID, va uint32, perm uint32) error {
	return h.K.PageAlloc(h.Self, envid, va, perm)
}

// PageMap shares the page at srcva in srcenvid into dstenvid at dstva.
func (h *Handle) PageMap(srcenvid envtab.ID, srcva uint32, dstenvid envtab.ID, dstva uint32, perm uint32) error {
	return h.K.PageMap(h.Self, srcenvid, srcva, dstenvid, dstva, perm)
}

// PageUnmap unmaps va from envid's address space.
func (h *Handle) PageUnmap(envid envtab.ID, va uint32) error {
	return h.K.PageUnmap(h.Self, envid, va)
}

// IPCTrySend attempts to deliver value (and optionally a page) to envid.
func (h *Handle) IPCTrySend(envid envtab.ID, value uint32, srcva uint32, perm uint32) error {
	return h.K.IPCTrySend(h.Self, envid, value, srcva, perm)
}

// IPCRecv blocks until a value arrives, optionally accepting a page at
// dstva.
func (h *Handle) IPCRecv(dstva uint32) (envtab.ID, uint32, uint32, error) {
	return h.K.IPCRecv(h.Self, dstva)
}

// Send is ipc_send: retries IPCTrySend across yields until it succeeds or
// fails for a reason other than IPCNotRecv, the lib/ipc.c convenience over
// the raw try-send syscall.
func (h *Handle) Send(envid envtab.ID, value uint32, srcva uint32, perm uint32) error {
	for {
		err := h.IPCTrySend(envid, value, srcva, perm)
		if err == nil {
			return nil
		}
		if !jerrors.Is(err, jerrors.IPCNotRecv) {
			return err
		}
		h.Yield()
	}
}

// TimeMsec reads the kernel's uptime counter.
func (h *Handle) TimeMsec() (uint32, error) { return h.K.TimeMsec(h.Self) }

// NetTrySend stages packet on the NIC's TX ring.
func (h *Handle) NetTrySend(packet []byte) (uint32, error) { return h.K.NetTrySend(h.Self, packet) }

// NetTryRecv copies the oldest arrived frame into buffer.
func (h *Handle) NetTryRecv(buffer []byte) (uint32, error) { return h.K.NetTryRecv(h.Self, buffer) }

// Read copies length bytes starting at va out of this environment's own
// address space. va and va+length must lie within a single mapped page —
// callers that need more issue one Read per page, mirroring how fork's
// duppage/copy_page_to operate a page at a time.
func (h *Handle) Read(va uint32, out []byte) error {
	return h.touch(va, out, nil, false)
}

// Write copies data into this environment's own address space starting at
// va, faulting in a private copy first if the target page is
// copy-on-write. Like Read, the range must lie within one page.
func (h *Handle) Write(va uint32, data []byte) error {
	return h.touch(va, nil, data, true)
}

func (h *Handle) touch(va uint32, out []byte, in []byte, write bool) error {
	length := len(out)
	if write {
		length = len(in)
	}
	if length == 0 {
		return nil
	}
	pageVA := va - va%mmu.PageSize
	off := va % mmu.PageSize
	if off+uint32(length) > mmu.PageSize {
		return jerrors.New(jerrors.Inval)
	}

	as := h.K.AddressSpaceOf(h.Self)
	if as == nil {
		return jerrors.New(jerrors.BadEnv)
	}
	page, perm, ok := as.Lookup(pageVA)
	if !ok || perm&mmu.PteU == 0 || perm&mmu.PteP == 0 {
		return jerrors.New(jerrors.Inval)
	}
	if write && perm&mmu.PteW == 0 {
		if !kernel.IsCOWFault(as, pageVA, true) {
			return jerrors.New(jerrors.Inval)
		}
		if err := h.K.PageFault(h.Self, pageVA, true); err != nil {
			return err
		}
		page, perm, ok = as.Lookup(pageVA)
		if !ok || perm&mmu.PteW == 0 {
			return jerrors.New(jerrors.Inval)
		}
	}
	if write {
		copy(page.Bytes()[off:], in)
	} else {
		copy(out, page.Bytes()[off:off+uint32(length)])
	}
	return nil
}
