package envtab

// ID is an environment identifier: a generation counter in the high bits
// and a table index in the low bits, so reusing a slot after destroy never
// aliases a stale identifier.
type ID uint32

const (
	idxBits = 10
	idxMask = 1<<idxBits - 1
)

// Index returns the slot index this id names.
func (id ID) Index() int { return int(id & idxMask) }

// Generation returns the generation tag this id carries.
func (id ID) Generation() uint32 { return uint32(id) >> idxBits }

// MakeID packs a generation and slot index into an ID. Generation 0 is
// reserved: ID(0) is the well-known "the caller" alias used throughout the
// syscall surface.
func MakeID(generation uint32, index int) ID {
	return ID(generation<<idxBits | uint32(index)&idxMask)
}
