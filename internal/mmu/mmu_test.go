package mmu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorAllocAssignsZeroedPages(t *testing.T) {
	a := NewAllocator(0)
	p := a.Alloc()
	require.NotNil(t, p)
	assert.Equal(t, 0, p.RefCount)
	assert.Equal(t, byte(0), p.Bytes()[0])
}

func TestAllocatorRespectsCapacity(t *testing.T) {
	a := NewAllocator(2)
	require.NotNil(t, a.Alloc())
	require.NotNil(t, a.Alloc())
	assert.Nil(t, a.Alloc())
}

func TestAddressSpaceInsertLookupRemove(t *testing.T) {
	as := NewAddressSpace()
	p := &Page{}

	as.Insert(0x1000, p, PteU|PteP)
	got, perm, ok := as.Lookup(0x1000)
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, PteU|PteP, perm)
	assert.Equal(t, 1, p.RefCount)

	as.Remove(0x1000)
	_, _, ok = as.Lookup(0x1000)
	assert.False(t, ok)
	assert.Equal(t, 0, p.RefCount)
}

func TestAddressSpaceInsertReplacesAndDropsOldRef(t *testing.T) {
	as := NewAddressSpace()
	p1, p2 := &Page{}, &Page{}

	as.Insert(0x2000, p1, PteU|PteP)
	as.Insert(0x2000, p2, PteU|PteP|PteW)

	assert.Equal(t, 0, p1.RefCount)
	assert.Equal(t, 1, p2.RefCount)
	got, perm, ok := as.Lookup(0x2000)
	require.True(t, ok)
	assert.Same(t, p2, got)
	assert.Equal(t, PteU|PteP|PteW, perm)
}

func TestAddressSpaceSharedMapping(t *testing.T) {
	as1, as2 := NewAddressSpace(), NewAddressSpace()
	p := &Page{}

	as1.Insert(0x3000, p, PteU|PteP|PteW)
	as2.Insert(0x4000, p, PteU|PteP)
	assert.Equal(t, 2, p.RefCount)

	as1.Remove(0x3000)
	assert.Equal(t, 1, p.RefCount)
	_, _, ok := as2.Lookup(0x4000)
	assert.True(t, ok)
}

func TestAddressSpaceMappedOrderedBelowLimit(t *testing.T) {
	as := NewAddressSpace()
	as.Insert(3*PageSize, &Page{}, PteU|PteP)
	as.Insert(1*PageSize, &Page{}, PteU|PteP)
	as.Insert(2*PageSize, &Page{}, PteU|PteP)
	as.Insert(10*PageSize, &Page{}, PteU|PteP) // above limit, excluded

	got := as.Mapped(4 * PageSize)
	assert.Equal(t, []uint32{PageSize, 2 * PageSize, 3 * PageSize}, got)
}

func TestUserMemAssertRange(t *testing.T) {
	as := NewAddressSpace()
	as.Insert(0, &Page{}, PteU|PteP)
	as.Insert(PageSize, &Page{}, PteU|PteP|PteW)

	assert.True(t, UserMemAssert(as, 0, 2*PageSize, 0))
	assert.False(t, UserMemAssert(as, 0, 2*PageSize, PteW)) // first page isn't writable
	assert.True(t, UserMemAssert(as, PageSize, PageSize, PteW))
	assert.False(t, UserMemAssert(as, 0, 3*PageSize, 0)) // third page unmapped
	assert.True(t, UserMemAssert(as, 0, 0, PteW))         // zero length is trivially fine
}

func TestPageAlignedAndBelowUTOP(t *testing.T) {
	assert.True(t, PageAligned(0))
	assert.True(t, PageAligned(PageSize))
	assert.False(t, PageAligned(1))
	assert.True(t, BelowUTOP(UTOP-1))
	assert.False(t, BelowUTOP(UTOP))
}
