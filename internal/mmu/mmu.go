// Package mmu simulates the physical page allocator and page-table walker a
// real kernel would hand off to hardware. There is no real MMU here, so
// this package gives page_alloc/page_map/page_unmap and the copy-on-write
// fork something real to operate on: a fixed-size physical page pool and a
// per-environment virtual address space mapping page numbers to (page,
// permission) pairs.
package mmu

import "sync"

const (
	// PageSize is the size of one page, matching the x86 4 KiB page used
	// by the original kernel.
	PageSize = 4096

	// UTOP is the first virtual address above the user/kernel split.
	// Every syscall argument that names a virtual address must lie
	// strictly below this value.
	UTOP uint32 = 0xEF000000

	// UXSTACKTOP is the top of the user exception stack, equal to UTOP;
	// the exception stack is the page just below it.
	UXSTACKTOP = UTOP
	// USTACKTOP is the top of the normal user stack, one page below the
	// exception stack.
	USTACKTOP = UXSTACKTOP - PageSize

	// PFTEMP is a scratch virtual address: the top user stack page, one
	// page below USTACKTOP. The netio bridge tasks stage frames there. The
	// COW page-fault handler does not stage through it; it allocates the
	// private copy directly at the faulting page.
	PFTEMP = USTACKTOP - PageSize
)

// Permission bits, a direct analogue of the PTE_* bits in inc/mmu.h.
const (
	PteP     uint32 = 1 << 0 // present
	PteW     uint32 = 1 << 1 // writable
	PteU     uint32 = 1 << 2 // user-accessible
	PteAvail uint32 = 7 << 9 // three bits reserved for software use
	PteCow   uint32 = 1 << 11

	// PteSyscall is the permission mask syscalls are allowed to grant:
	// exactly the U|P|W|AVAIL bits. PteCow is one of the AVAIL bits, so
	// copy-on-write mappings can be made through page_map.
	PteSyscall = PteU | PteP | PteW | PteAvail
)

// PageAligned reports whether va is a multiple of PageSize.
func PageAligned(va uint32) bool { return va%PageSize == 0 }

// BelowUTOP reports whether va lies strictly below the user/kernel split.
func BelowUTOP(va uint32) bool { return va < UTOP }

// Page is one physical page: a 4 KiB byte array plus a reference count.
// A page with RefCount 0 is back on the free list.
type Page struct {
	mu       sync.Mutex
	data     [PageSize]byte
	RefCount int
}

// Bytes returns the page's backing storage. No lock guards the returned
// bytes; PageFault handling and duppage-style copies call this directly.
func (p *Page) Bytes() *[PageSize]byte { return &p.data }

// Allocator is the physical page allocator, guarded by its own lock which
// sits below per-environment locks and above the console's in the lock
// ordering.
type Allocator struct {
	mu    sync.Mutex
	pages []*Page
}

// NewAllocator creates an allocator with capacity zero-filled pages
// available for page_alloc; capacity 0 means no limit.
func NewAllocator(capacity int) *Allocator {
	return &Allocator{pages: make([]*Page, 0, capacity)}
}

// Alloc returns a fresh zero-filled page with RefCount 0, or nil once
// capacity pages have been handed out by an allocator created with a
// non-zero capacity (kernel.Config.PageCap), which callers report as NoMem.
func (a *Allocator) Alloc() *Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capExhausted() {
		return nil
	}
	p := &Page{}
	a.pages = append(a.pages, p)
	return p
}

func (a *Allocator) capExhausted() bool {
	return cap(a.pages) > 0 && len(a.pages) >= cap(a.pages)
}

// PTE is one page-table entry: the physical page it names and the
// permission bits under which it is mapped.
type PTE struct {
	Page *Page
	Perm uint32
}

// AddressSpace is one environment's virtual address space: a sparse map
// from page number to PTE. It plays the role of kern/pmap.c's page
// directory/table walk (page_insert/page_lookup/page_remove), simplified
// to a map since there is no real hardware page walker to emulate.
type AddressSpace struct {
	mu      sync.Mutex
	entries map[uint32]*PTE
}

// NewAddressSpace returns an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{entries: make(map[uint32]*PTE)}
}

func pageNumber(va uint32) uint32 { return va / PageSize }

// Insert maps va to page with the given permissions, replacing (and
// unmapping) whatever was mapped there before.
func (as *AddressSpace) Insert(va uint32, page *Page, perm uint32) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pn := pageNumber(va)
	if old, ok := as.entries[pn]; ok {
		unref(old.Page)
	}
	page.mu.Lock()
	page.RefCount++
	page.mu.Unlock()
	as.entries[pn] = &PTE{Page: page, Perm: perm}
}

// Lookup returns the page mapped at va and its permissions, or ok=false if
// nothing is mapped there (page_lookup).
func (as *AddressSpace) Lookup(va uint32) (page *Page, perm uint32, ok bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pte, found := as.entries[pageNumber(va)]
	if !found {
		return nil, 0, false
	}
	return pte.Page, pte.Perm, true
}

// Remove unmaps va, a no-op if nothing was mapped there.
func (as *AddressSpace) Remove(va uint32) {
	as.mu.Lock()
	defer as.mu.Unlock()
	pn := pageNumber(va)
	if old, ok := as.entries[pn]; ok {
		delete(as.entries, pn)
		unref(old.Page)
	}
}

// SetPerm rewrites the permission bits of an existing mapping in place,
// used by the COW fault handler to remap a page U|W|P after copying it.
func (as *AddressSpace) SetPerm(va uint32, perm uint32) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if pte, ok := as.entries[pageNumber(va)]; ok {
		pte.Perm = perm
	}
}

// Mapped reports every currently-mapped virtual address below limit, in
// ascending order — used by fork's duppage walk over every present user
// page.
func (as *AddressSpace) Mapped(limit uint32) []uint32 {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]uint32, 0, len(as.entries))
	for pn := range as.entries {
		va := pn * PageSize
		if va < limit {
			out = append(out, va)
		}
	}
	// Deterministic order keeps fork reproducible in tests.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func unref(p *Page) {
	p.mu.Lock()
	p.RefCount--
	p.mu.Unlock()
}

// UserMemAssert validates that [va, va+length) is entirely mapped in as
// with at least the required permission bits. On failure the caller
// destroys the offending environment rather than returning an error code.
func UserMemAssert(as *AddressSpace, va uint32, length int, reqPerm uint32) bool {
	if length == 0 {
		return true
	}
	if !BelowUTOP(va) || !BelowUTOP(va+uint32(length)-1) {
		return false
	}
	first := pageNumber(va)
	last := pageNumber(va + uint32(length) - 1)
	for pn := first; pn <= last; pn++ {
		_, perm, ok := as.Lookup(pn * PageSize)
		if !ok || perm&(PteU|PteP) != PteU|PteP {
			return false
		}
		if reqPerm&PteW != 0 && perm&PteW == 0 {
			return false
		}
	}
	return true
}
