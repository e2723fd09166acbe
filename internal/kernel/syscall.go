package kernel

import (
	"exok/internal/envtab"
	"exok/internal/jerrors"
	"exok/internal/mmu"
	"exok/internal/trapframe"
)

// Syscall numbers, in the order the original ABI assigns them. cmd/exokernel
// and userlib use these only if they want to go through the numeric
// dispatcher in Syscall; the typed methods below are the normal path.
const (
	SysCputs = iota
	SysCgetc
	SysGetEnvID
	SysEnvDestroy
	SysPageAlloc
	SysPageMap
	SysPageUnmap
	SysExofork
	SysEnvSetStatus
	SysEnvSetTrapframe
	SysEnvSetPgfaultUpcall
	SysYield
	SysIPCTrySend
	SysIPCRecv
	SysTimeMsec
	SysNetTrySend
	SysNetTryRecv
)

// resolve looks up target under the calling env's permission, destroying
// nothing itself — callers that need the BadEnv-destroys-nobody semantics
// of envid2env get it for free since Translate never touches by.
func (k *Kernel) resolve(by envtab.ID, target envtab.ID, checkPerm bool) (*envtab.Env, *envtab.Env, error) {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return nil, nil, jerrors.New(jerrors.BadEnv)
	}
	e, err := k.Envs.Translate(target, caller, checkPerm)
	if err != nil {
		return caller, nil, err
	}
	return caller, e, nil
}

// AddressSpaceOf returns by's own address space, or nil if by does not
// name a live environment. Used by userlib to touch an environment's own
// pages directly rather than through a simulated flat memory bus.
func (k *Kernel) AddressSpaceOf(by envtab.ID) *mmu.AddressSpace {
	e := k.Envs.Slot(by.Index())
	if e.ID != by {
		return nil
	}
	return e.AddrSpace
}

// Cputs writes s to the kernel log on behalf of by. Environments in this
// module run as in-process goroutines rather than in an isolated address
// space, so there is no separate user buffer to user_mem_assert here —
// the Go string already is the validated argument.
func (k *Kernel) Cputs(by envtab.ID, s string) error {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return jerrors.New(jerrors.BadEnv)
	}
	k.Log.Info(s)
	return nil
}

// Cgetc is a non-blocking console read, returning 0 if nothing is waiting.
func (k *Kernel) Cgetc(by envtab.ID) (byte, error) {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return 0, jerrors.New(jerrors.BadEnv)
	}
	if k.console == nil {
		return 0, nil
	}
	return k.console.GetC(), nil
}

// GetEnvID returns the caller's own id.
func (k *Kernel) GetEnvID(by envtab.ID) envtab.ID { return by }

// EnvDestroy tears down envid, or the caller itself if envid is 0.
func (k *Kernel) EnvDestroy(by envtab.ID, envid envtab.ID) error {
	_, e, err := k.resolve(by, envid, true)
	if err != nil {
		return err
	}
	k.destroy(by, e.ID)
	return nil
}

// destroy frees e's resources and its table slot, walking any pending-sender
// queue it was waiting on or holding so no other environment is left
// referencing a dead id.
func (k *Kernel) destroy(by envtab.ID, target envtab.ID) {
	e := k.Envs.Slot(target.Index())
	unlock := k.lockEnvs(by, e)
	defer unlock()

	if e.Status == envtab.Free {
		return
	}
	e.Status = envtab.Dying

	k.ipcMu.Lock()
	if e.WaitingOn != envtab.NoID {
		k.removeFromQueue(e.WaitingOn, e.ID)
		e.WaitingOn = envtab.NoID
	}
	k.ipcCond.Broadcast()
	k.ipcMu.Unlock()
	if e.AddrSpace != nil {
		for _, va := range e.AddrSpace.Mapped(mmu.UTOP) {
			e.AddrSpace.Remove(va)
		}
	}
	k.Envs.Free(e.Index)
}

// removeFromQueue unlinks sender from receiver's pending-sender list, used
// when a queued sender is destroyed before being serviced.
func (k *Kernel) removeFromQueue(receiver envtab.ID, sender envtab.ID) {
	r := k.Envs.Slot(receiver.Index())
	if r.Status == envtab.Free || r.ID != receiver {
		return
	}
	if r.QueueHead == sender {
		r.QueueHead = k.Envs.Slot(sender.Index()).PendingNext
		if r.QueueHead == envtab.NoID {
			r.QueueTail = envtab.NoID
		}
		return
	}
	prev := r.QueueHead
	for prev != envtab.NoID {
		p := k.Envs.Slot(prev.Index())
		if p.PendingNext == sender {
			p.PendingNext = k.Envs.Slot(sender.Index()).PendingNext
			if r.QueueTail == sender {
				r.QueueTail = prev
			}
			return
		}
		prev = p.PendingNext
	}
}

// Yield deschedules by and picks another runnable environment to run, via
// the admission semaphore rather than any fairness policy.
func (k *Kernel) Yield(by envtab.ID) {
	e := k.Envs.Slot(by.Index())
	unlock := k.lockEnvs(by, e)
	e.Status = envtab.Runnable
	unlock()

	k.yieldCPU()

	unlock = k.lockEnvs(by, e)
	e.Status = envtab.Running
	unlock()
}

// Exofork allocates a new environment as by's child, NOT_RUNNABLE, with by's
// register image copied over except the return-value register forced to
// 0 — so when the child is later made runnable, sys_exofork appears to
// return 0 to it.
func (k *Kernel) Exofork(by envtab.ID) (envtab.ID, error) {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return 0, jerrors.New(jerrors.BadEnv)
	}
	child, err := k.Envs.Alloc(by)
	if err != nil {
		return 0, err
	}
	child.Lock = k.newEnvLock(child.ID)
	child.TF = caller.TF
	child.TF.Regs[trapframe.RetvalReg] = 0
	child.AddrSpace = mmu.NewAddressSpace()
	return child.ID, nil
}

// EnvSetStatus sets envid's status to a RUNNABLE/NOT_RUNNABLE value chosen
// by the caller.
func (k *Kernel) EnvSetStatus(by envtab.ID, envid envtab.ID, status envtab.Status) error {
	_, e, err := k.resolve(by, envid, true)
	if err != nil {
		return err
	}
	if status != envtab.Runnable && status != envtab.NotRunnable {
		return jerrors.New(jerrors.Inval)
	}
	unlock := k.lockEnvs(by, e)
	defer unlock()
	e.Status = status
	return nil
}

// EnvSetTrapframe overwrites envid's saved register image, forcing it back
// to user mode.
func (k *Kernel) EnvSetTrapframe(by envtab.ID, envid envtab.ID, tf trapframe.Trapframe) error {
	_, e, err := k.resolve(by, envid, true)
	if err != nil {
		return err
	}
	tf.ForceUserMode()
	unlock := k.lockEnvs(by, e)
	defer unlock()
	e.TF = tf
	return nil
}

// EnvSetPgfaultUpcall records the function envid's goroutine should call
// whenever it takes a page fault.
func (k *Kernel) EnvSetPgfaultUpcall(by envtab.ID, envid envtab.ID, upcall func(*trapframe.UTrapframe)) error {
	_, e, err := k.resolve(by, envid, true)
	if err != nil {
		return err
	}
	unlock := k.lockEnvs(by, e)
	defer unlock()
	e.PgFaultUpcall = upcall
	return nil
}

// PageAlloc allocates a fresh zeroed page and maps it at va in envid's
// address space with perm, replacing whatever was mapped there before.
func (k *Kernel) PageAlloc(by envtab.ID, envid envtab.ID, va uint32, perm uint32) error {
	_, e, err := k.resolve(by, envid, true)
	if err != nil {
		return err
	}
	if !mmu.BelowUTOP(va) || !mmu.PageAligned(va) {
		return jerrors.New(jerrors.Inval)
	}
	if !validSyscallPerm(perm) {
		return jerrors.New(jerrors.Inval)
	}
	p := k.Pages.Alloc()
	if p == nil {
		return jerrors.New(jerrors.NoMem)
	}
	e.AddrSpace.Insert(va, p, perm)
	return nil
}

// PageMap shares the page mapped at srcva in srcenvid's address space into
// dstenvid's address space at dstva, under perm.
func (k *Kernel) PageMap(by envtab.ID, srcenvid envtab.ID, srcva uint32, dstenvid envtab.ID, dstva uint32, perm uint32) error {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return jerrors.New(jerrors.BadEnv)
	}
	src, err := k.Envs.Translate(srcenvid, caller, true)
	if err != nil {
		return err
	}
	dst, err := k.Envs.Translate(dstenvid, caller, true)
	if err != nil {
		return err
	}
	if !mmu.BelowUTOP(srcva) || !mmu.PageAligned(srcva) || !mmu.BelowUTOP(dstva) || !mmu.PageAligned(dstva) {
		return jerrors.New(jerrors.Inval)
	}
	page, srcPerm, ok := src.AddrSpace.Lookup(srcva)
	if !ok {
		return jerrors.New(jerrors.Inval)
	}
	if !validSyscallPerm(perm) {
		return jerrors.New(jerrors.Inval)
	}
	if perm&mmu.PteW != 0 && srcPerm&mmu.PteW == 0 {
		return jerrors.New(jerrors.Inval)
	}
	dst.AddrSpace.Insert(dstva, page, perm)
	return nil
}

// PageUnmap unmaps va from envid's address space, a no-op if nothing was
// mapped there.
func (k *Kernel) PageUnmap(by envtab.ID, envid envtab.ID, va uint32) error {
	_, e, err := k.resolve(by, envid, true)
	if err != nil {
		return err
	}
	if !mmu.BelowUTOP(va) || !mmu.PageAligned(va) {
		return jerrors.New(jerrors.Inval)
	}
	e.AddrSpace.Remove(va)
	return nil
}

// TimeMsec returns an environment-visible monotonic millisecond counter.
// The kernel never uses it internally; it exists purely as a syscall for
// user code to read.
func (k *Kernel) TimeMsec(by envtab.ID) (uint32, error) {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return 0, jerrors.New(jerrors.BadEnv)
	}
	return uint32(k.clock.elapsedMsec()), nil
}

// validSyscallPerm checks perm against the bits syscalls are allowed to
// grant: U and P must be set, and no bit outside PteSyscall may be set.
func validSyscallPerm(perm uint32) bool {
	if perm&mmu.PteU == 0 || perm&mmu.PteP == 0 {
		return false
	}
	return perm&^mmu.PteSyscall == 0
}
