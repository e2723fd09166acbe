package kernel

import (
	"exok/internal/envtab"
	"exok/internal/jerrors"
	"exok/internal/mmu"
	"exok/internal/trapframe"
)

// IPCTrySend attempts to deliver value (and, if srcva/the receiver's dstva
// both lie below UTOP, a shared page mapping) to envid. Under IPCBaseline
// it fails with IPCNotRecv unless envid is already blocked in IPCRecv.
// Under IPCQueued it instead enqueues the send and blocks the caller until
// some receive consumes it.
func (k *Kernel) IPCTrySend(by envtab.ID, envid envtab.ID, value uint32, srcva uint32, perm uint32) error {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return jerrors.New(jerrors.BadEnv)
	}
	target, err := k.Envs.Translate(envid, caller, false)
	if err != nil {
		return err
	}

	var page *mmu.Page
	havePage := srcva < mmu.UTOP
	if havePage {
		if !mmu.PageAligned(srcva) {
			return jerrors.New(jerrors.Inval)
		}
		if perm&mmu.PteU == 0 || perm&mmu.PteP == 0 || perm&^mmu.PteSyscall != 0 {
			return jerrors.New(jerrors.Inval)
		}
		var srcPerm uint32
		var ok bool
		page, srcPerm, ok = caller.AddrSpace.Lookup(srcva)
		if !ok {
			return jerrors.New(jerrors.Inval)
		}
		if perm&mmu.PteW != 0 && srcPerm&mmu.PteW == 0 {
			return jerrors.New(jerrors.Inval)
		}
	}

	k.ipcMu.Lock()
	if target.Recving {
		k.deliverLocked(by, target, value, page, perm)
		k.ipcCond.Broadcast()
		k.ipcMu.Unlock()
		return nil
	}
	if k.ipcMode == IPCBaseline {
		k.ipcMu.Unlock()
		return jerrors.New(jerrors.IPCNotRecv)
	}

	// Queued mode: enqueue by as a pending sender on target and block.
	caller.PendingValue = value
	caller.PendingPage = page
	caller.PendingPerm = perm
	caller.PendingNext = envtab.NoID
	caller.WaitingOn = target.ID
	if target.QueueTail == envtab.NoID {
		target.QueueHead = by
	} else {
		k.Envs.Slot(target.QueueTail.Index()).PendingNext = by
	}
	target.QueueTail = by
	caller.Status = envtab.NotRunnable
	k.ipcMu.Unlock()

	k.yieldWhileWaiting(caller)
	return nil
}

// deliverLocked performs the actual handoff into target once it is known
// to be receiving: copies in a page mapping if both sides want one, wakes
// it up RUNNABLE, and zeroes its return-value register so its paused
// IPCRecv call appears to return 0. Callers must hold k.ipcMu.
func (k *Kernel) deliverLocked(from envtab.ID, target *envtab.Env, value uint32, page *mmu.Page, perm uint32) {
	if page != nil && target.DstVA < mmu.UTOP {
		target.AddrSpace.Insert(target.DstVA, page, perm)
		target.Perm = perm
	} else {
		target.Perm = 0
	}
	target.Value = value
	target.From = from
	target.Recving = false
	target.TF.Regs[trapframe.RetvalReg] = 0
	target.Status = envtab.Runnable
}

// yieldWhileWaiting releases caller's CPU slot and blocks until it is no
// longer enqueued as a pending sender (queued mode) or receiver (either
// mode), then reacquires a slot before returning.
func (k *Kernel) yieldWhileWaiting(caller *envtab.Env) {
	k.sched.release()
	k.ipcMu.Lock()
	for caller.WaitingOn != envtab.NoID || caller.Recving {
		k.ipcCond.Wait()
	}
	k.ipcMu.Unlock()
	k.sched.acquire()
	caller.Status = envtab.Running
}

// IPCRecv blocks caller until a value arrives, optionally accepting a page
// mapping at dstva. In queued mode, a pending sender already waiting is
// serviced immediately instead of making the caller block.
func (k *Kernel) IPCRecv(by envtab.ID, dstva uint32) (envtab.ID, uint32, uint32, error) {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return 0, 0, 0, jerrors.New(jerrors.BadEnv)
	}
	if dstva < mmu.UTOP && !mmu.PageAligned(dstva) {
		return 0, 0, 0, jerrors.New(jerrors.Inval)
	}

	k.ipcMu.Lock()
	if k.ipcMode == IPCQueued && caller.QueueHead != envtab.NoID {
		senderID := caller.QueueHead
		sender := k.Envs.Slot(senderID.Index())
		caller.QueueHead = sender.PendingNext
		if caller.QueueHead == envtab.NoID {
			caller.QueueTail = envtab.NoID
		}
		sender.PendingNext = envtab.NoID

		caller.DstVA = dstva
		caller.Recving = true
		k.deliverLocked(senderID, caller, sender.PendingValue, sender.PendingPage, sender.PendingPerm)
		sender.PendingPage = nil
		sender.WaitingOn = envtab.NoID
		sender.Status = envtab.Runnable
		k.ipcCond.Broadcast()
		k.ipcMu.Unlock()
		return caller.From, caller.Value, caller.Perm, nil
	}

	caller.Recving = true
	caller.DstVA = dstva
	caller.Status = envtab.NotRunnable
	k.ipcMu.Unlock()

	k.yieldWhileWaiting(caller)
	return caller.From, caller.Value, caller.Perm, nil
}
