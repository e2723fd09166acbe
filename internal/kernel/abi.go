package kernel

import (
	"exok/internal/envtab"
	"exok/internal/jerrors"
	"exok/internal/mmu"
	"exok/internal/nic"
)

// Syscall is the register-ABI dispatcher: the uint32-argument switch a trap
// handler would call after reading a1..a5 out of the user's saved register
// set. It is not the normal path into this kernel — every method above
// already has a typed Go signature userlib calls directly — but it exists
// for callers that want to go through the same numbered-syscall surface the
// ABI defines, one switch arm per SysXxx constant.
//
// Two syscalls are not decoded here and their shared arm returns Inval:
// SysEnvSetTrapframe and SysEnvSetPgfaultUpcall both take an argument that
// names a Go-native value
// (a trapframe.Trapframe struct, a page-fault closure) with no flat-memory
// representation to decode a uint32 virtual address into, the same reason
// Cputs takes a Go string directly instead of a (va, len) pair. Callers that
// need those two syscalls use the typed methods.
func (k *Kernel) Syscall(by envtab.ID, syscallno uint32, a1, a2, a3, a4, a5 uint32) int32 {
	switch syscallno {
	case SysCputs:
		return k.abiCputs(by, a1, a2)
	case SysCgetc:
		b, err := k.Cgetc(by)
		if err != nil {
			return jerrors.ToErrno(err)
		}
		return int32(b)
	case SysGetEnvID:
		return int32(k.GetEnvID(by))
	case SysEnvDestroy:
		return jerrors.ToErrno(k.EnvDestroy(by, envtab.ID(a1)))
	case SysPageAlloc:
		return jerrors.ToErrno(k.PageAlloc(by, envtab.ID(a1), a2, a3))
	case SysPageMap:
		return jerrors.ToErrno(k.PageMap(by, envtab.ID(a1), a2, envtab.ID(a3), a4, a5))
	case SysPageUnmap:
		return jerrors.ToErrno(k.PageUnmap(by, envtab.ID(a1), a2))
	case SysExofork:
		childID, err := k.Exofork(by)
		if err != nil {
			return jerrors.ToErrno(err)
		}
		return int32(childID)
	case SysEnvSetStatus:
		return jerrors.ToErrno(k.EnvSetStatus(by, envtab.ID(a1), envtab.Status(a2)))
	case SysEnvSetTrapframe, SysEnvSetPgfaultUpcall:
		return jerrors.ToErrno(jerrors.New(jerrors.Inval))
	case SysYield:
		k.Yield(by)
		return 0
	case SysIPCTrySend:
		return jerrors.ToErrno(k.IPCTrySend(by, envtab.ID(a1), a2, a3, a4))
	case SysIPCRecv:
		_, value, _, err := k.IPCRecv(by, a1)
		if err != nil {
			return jerrors.ToErrno(err)
		}
		return int32(value)
	case SysTimeMsec:
		msec, err := k.TimeMsec(by)
		if err != nil {
			return jerrors.ToErrno(err)
		}
		return int32(msec)
	case SysNetTrySend:
		return k.abiNetTrySend(by, a1, a2)
	case SysNetTryRecv:
		return k.abiNetTryRecv(by, a1)
	default:
		return jerrors.ToErrno(jerrors.New(jerrors.Inval))
	}
}

// abiCputs reads [va, va+length) out of by's own address space and forwards
// it to Cputs, mirroring sys_cputs's user_mem_assert-then-cprintf shape.
func (k *Kernel) abiCputs(by envtab.ID, va, length uint32) int32 {
	as := k.AddressSpaceOf(by)
	if as == nil {
		return jerrors.ToErrno(jerrors.New(jerrors.BadEnv))
	}
	buf, ok := readUserBytes(as, va, int(length))
	if !ok {
		k.destroy(by, by)
		return jerrors.ToErrno(jerrors.New(jerrors.Unspecified))
	}
	return jerrors.ToErrno(k.Cputs(by, string(buf)))
}

// abiNetTrySend reads [va, va+length) out of by's address space and stages
// it on the NIC's TX ring, mirroring sys_net_try_send.
func (k *Kernel) abiNetTrySend(by envtab.ID, va, length uint32) int32 {
	as := k.AddressSpaceOf(by)
	if as == nil {
		return jerrors.ToErrno(jerrors.New(jerrors.BadEnv))
	}
	buf, ok := readUserBytes(as, va, int(length))
	if !ok {
		k.destroy(by, by)
		return jerrors.ToErrno(jerrors.New(jerrors.Unspecified))
	}
	n, err := k.NetTrySend(by, buf)
	if err != nil {
		return jerrors.ToErrno(err)
	}
	return int32(n)
}

// abiNetTryRecv copies the oldest arrived frame into by's address space at
// va, mirroring sys_net_try_recv's fixed RxBufferSize destination.
func (k *Kernel) abiNetTryRecv(by envtab.ID, va uint32) int32 {
	as := k.AddressSpaceOf(by)
	if as == nil {
		return jerrors.ToErrno(jerrors.New(jerrors.BadEnv))
	}
	if !mmu.UserMemAssert(as, va, nic.RxBufferSize, mmu.PteW) {
		k.destroy(by, by)
		return jerrors.ToErrno(jerrors.New(jerrors.Unspecified))
	}
	buf := make([]byte, nic.RxBufferSize)
	n, err := k.NetTryRecv(by, buf)
	if err != nil {
		return jerrors.ToErrno(err)
	}
	writeUserBytes(as, va, buf[:n])
	return int32(n)
}

// readUserBytes copies [va, va+length) out of as into a fresh slice,
// walking it one mapped page at a time; ok is false if any page in the
// range isn't present and user-accessible.
func readUserBytes(as *mmu.AddressSpace, va uint32, length int) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	if !mmu.UserMemAssert(as, va, length, 0) {
		return nil, false
	}
	out := make([]byte, length)
	for i := 0; i < length; {
		pageVA := (va + uint32(i)) - (va+uint32(i))%mmu.PageSize
		page, _, _ := as.Lookup(pageVA)
		off := (va + uint32(i)) % mmu.PageSize
		n := copy(out[i:], page.Bytes()[off:])
		i += n
	}
	return out, true
}

// writeUserBytes copies data into as starting at va, one mapped page at a
// time. Callers have already validated the destination range via
// mmu.UserMemAssert.
func writeUserBytes(as *mmu.AddressSpace, va uint32, data []byte) {
	for i := 0; i < len(data); {
		pageVA := (va + uint32(i)) - (va+uint32(i))%mmu.PageSize
		page, _, _ := as.Lookup(pageVA)
		off := (va + uint32(i)) % mmu.PageSize
		n := copy(page.Bytes()[off:], data[i:])
		i += n
	}
}
