package kernel

import (
	"exok/internal/envtab"
	"exok/internal/jerrors"
	"exok/internal/mmu"
	"exok/internal/trapframe"
)

// PageFault delivers a page fault to by at faultVA. There is no hardware
// trap here — environments run as Go closures directly touching page
// bytes — so callers that need fault semantics (userlib's COW-aware
// memory access) call this explicitly instead of the kernel intercepting a
// real exception. It mirrors page_fault_handler's two outcomes: if by has
// registered a fault upcall, it runs synchronously with a UTrapframe
// describing the fault; if not, or if a fault arrives while already
// running on the exception "stack" (OnExceptionStk), by is destroyed.
func (k *Kernel) PageFault(by envtab.ID, faultVA uint32, write bool) error {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return jerrors.New(jerrors.BadEnv)
	}

	// A real kernel pushes a second exception frame below the first and lets
	// the upcall run recursively; there's no stack here to push a nested
	// frame onto, so a fault taken while already on the exception "stack" is
	// treated the same as no upcall at all and destroys the environment.
	if caller.PgFaultUpcall == nil || caller.OnExceptionStk {
		k.Log.WithField("env", by).WithField("va", faultVA).
			Warn("unhandled page fault, destroying environment")
		k.destroy(by, by)
		return jerrors.New(jerrors.Unspecified)
	}

	var errCode uint32
	if write {
		errCode = trapframe.FecWR
	}
	utf := &trapframe.UTrapframe{
		FaultVA: faultVA,
		Err:     errCode,
		Saved:   caller.TF,
	}

	caller.OnExceptionStk = true
	caller.PgFaultUpcall(utf)
	caller.OnExceptionStk = false
	return nil
}

// IsCOWFault reports whether a write fault at va against as is a
// copy-on-write fault: mapped, present, user-accessible, and marked
// PteCow. userlib's pgfault handler uses this the same way lib/fork.c's
// handler consults uvpt directly.
func IsCOWFault(as *mmu.AddressSpace, va uint32, write bool) bool {
	if !write {
		return false
	}
	_, perm, ok := as.Lookup(va)
	return ok && perm&mmu.PteCow != 0
}
