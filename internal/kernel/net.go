package kernel

import (
	"exok/internal/envtab"
	"exok/internal/jerrors"
)

// NetTrySend stages packet on the attached NIC's TX ring, returning the
// number of bytes accepted (0 if the ring has no free descriptor). As with
// Cputs, there is no separate simulated address space to user_mem_assert
// here: packet is a plain Go slice already owned by the calling goroutine.
func (k *Kernel) NetTrySend(by envtab.ID, packet []byte) (uint32, error) {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return 0, jerrors.New(jerrors.BadEnv)
	}
	if k.NIC == nil {
		return 0, jerrors.New(jerrors.Inval)
	}
	return uint32(k.NIC.TrySend(packet)), nil
}

// NetTryRecv copies the oldest arrived frame into buffer, returning the
// number of bytes copied (0 if nothing has arrived).
func (k *Kernel) NetTryRecv(by envtab.ID, buffer []byte) (uint32, error) {
	caller := k.Envs.Slot(by.Index())
	if caller.ID != by {
		return 0, jerrors.New(jerrors.BadEnv)
	}
	if k.NIC == nil {
		return 0, jerrors.New(jerrors.Inval)
	}
	return uint32(k.NIC.TryRecv(buffer)), nil
}
