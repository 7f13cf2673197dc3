// Package page implements the per-physical-frame descriptor table shared by
// the buddy and slab allocators: one Page per frame, indexed by frame
// number, doubling as both allocator bookkeeping and an intrusive list node.
package page

import (
	"sync/atomic"
	"unsafe"

	"wcore/internal/addr"
	"wcore/internal/klock"
	"wcore/internal/list"
)

// Page is the per-frame descriptor. Every physical frame the kernel manages
// has exactly one Page, recovered by frame number through a Pages table.
//
// ListNode links the page into exactly one of {a MemCache's node.partial
// list, nothing}; ListLock serializes access to ListNode, matching the
// slab dealloc path's "under page-list-node locks" requirement (4.4).
// Freelist threads the slab page's free objects; FreelistLock serializes
// access to it and to Inuse together, so a freelist push and the matching
// inuse decrement are never observed torn.
//
// aux is a two-use word: for a slab page it holds the compound's total
// object count (Objs); for a raw buddy compound it holds the allocation
// order (Ord). Which interpretation applies is determined by Slub: nil
// means raw buddy, non-nil means slab, exactly as in the source.
type Page struct {
	ListNode     list.DNode
	ListLock     klock.Spin[struct{}]
	HeadPage     addr.PageFrame
	Slub         unsafe.Pointer
	Freelist     list.LinkedList
	FreelistLock klock.Spin[struct{}]
	Inuse        atomic.Uint32
	aux          uint16
}

// Objs returns the compound's total object count. Valid only when Slub is
// non-nil (a slab page).
func (p *Page) Objs() uint16 { return p.aux }

// SetObjs sets the compound's total object count.
func (p *Page) SetObjs(v uint16) { p.aux = v }

// Ord returns the compound's buddy allocation order. Valid only when Slub
// is nil (a raw buddy compound).
func (p *Page) Ord() uint16 { return p.aux }

// SetOrd sets the compound's buddy allocation order.
func (p *Page) SetOrd(v uint16) { p.aux = v }

// Alloc carves nbytes of physical storage and reports its physical base.
// Pages.Init takes one of these rather than reaching into a memblock
// directly, so tests can back the table with ordinary Go memory and so the
// boot path can supply the real early-allocator's memblock.MemBlock.Alloc.
type Alloc func(nbytes uint64) addr.PhysAddr

// Pages is the table of Page descriptors for a contiguous frame range,
// indexed by frame - base. It mirrors the source's pages[frame-base_frame]
// array, materialized here over a single carved allocation via unsafe.Slice
// rather than a Go slice append, since the table's backing storage itself
// comes from the allocator this module serves.
type Pages struct {
	base  addr.PageFrame
	pages []Page
}

// Init carves numFrames*sizeof(Page) bytes of physical memory via alloc and
// installs it as the table, covering frames [base, base+numFrames).
func (t *Pages) Init(base addr.PageFrame, numFrames uint64, alloc Alloc) {
	var sample Page
	nbytes := numFrames * uint64(unsafe.Sizeof(sample))
	pa := alloc(nbytes)
	va := pa.ToVirt()
	t.base = base
	t.pages = unsafe.Slice((*Page)(unsafe.Pointer(uintptr(va))), numFrames) //nolint:gosec // table storage punning

	// The carved storage comes back zeroed, which leaves each embedded
	// Spin's owner at 0 instead of the unowned sentinel -1, indistinguishable
	// from hart 0 already holding it. Stamp the real sentinel in before any
	// page is handed out.
	for i := range t.pages {
		t.pages[i].ListLock.Init()
		t.pages[i].FreelistLock.Init()
	}
}

// NumFrames reports how many frames the table covers.
func (t *Pages) NumFrames() uint64 { return uint64(len(t.pages)) }

// Base returns the lowest frame number the table covers.
func (t *Pages) Base() addr.PageFrame { return t.base }

// At returns the descriptor for frame f. f must lie within the table's
// covered range; out-of-range access panics, as it indicates a bug in the
// caller's frame bookkeeping rather than a recoverable condition.
func (t *Pages) At(f addr.PageFrame) *Page {
	return &t.pages[uint64(f)-uint64(t.base)]
}

// FrameOf recovers the frame number of a descriptor obtained from At, via
// pointer-arithmetic offset against the table's backing storage. This is the
// Go analogue of the source's index-from-pointer recovery used when a
// caller holds a *Page and needs to know which frame it describes.
func (t *Pages) FrameOf(p *Page) addr.PageFrame {
	origin := uintptr(unsafe.Pointer(&t.pages[0]))
	off := uintptr(unsafe.Pointer(p)) - origin
	idx := off / unsafe.Sizeof(t.pages[0])
	return t.base.Add(uint64(idx))
}

// SetHeadPage stamps head into the HeadPage field of every frame in the
// 2^ord-frame compound starting at head, so any constituent frame can later
// recover the compound's identity via HeadPageOf.
func (t *Pages) SetHeadPage(head addr.PageFrame, ord uint) {
	n := uint64(1) << ord
	for i := uint64(0); i < n; i++ {
		t.At(head.Add(i)).HeadPage = head
	}
}

// HeadPageOf returns the stored compound head for frame f.
func (t *Pages) HeadPageOf(f addr.PageFrame) addr.PageFrame {
	return t.At(f).HeadPage
}
