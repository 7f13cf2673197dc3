// Package slab implements the kernel's slub-style object allocator: a
// MemCache per size class with a per-hart fast path, a global partial-page
// list, and a buddy-backed refill/return path, plus a top-level Allocator
// dispatching by size and handling the large-object bypass.
package slab

import (
	"math/bits"
	"sort"
	"unsafe"

	"wcore/internal/addr"
	"wcore/internal/buddy"
	"wcore/internal/klock"
	"wcore/internal/list"
	"wcore/internal/page"
)

const (
	// SlubMinObj is the minimum number of objects a compound must hold.
	SlubMinObj = 16
	// SlubMaxOrd caps the buddy order a MemCache will request per compound.
	SlubMaxOrd = 3
)

func alignUp(size, align uint64) uint64 {
	return (size + align - 1) &^ (align - 1)
}

// ceilLog2 returns the smallest k with 2^k >= n, for n >= 1.
func ceilLog2(n uint64) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len64(n - 1))
}

func cacheOrd(size uint64) uint {
	required := alignUp(size*SlubMinObj, addr.PageSize)
	ord := ceilLog2(required / addr.PageSize)
	if ord > SlubMaxOrd {
		ord = SlubMaxOrd
	}
	return ord
}

// MemCacheCpu is a cache's per-hart fast-path state: the slab page it
// currently owns, if any, and that page's free-object list swapped onto
// the hart for lock-free pops.
type MemCacheCpu struct {
	Page     *page.Page
	Freelist list.LinkedList
}

// MemCacheNode is a cache's global state: the count and intrusive list of
// partially-used slab pages available for the slow allocation path.
type MemCacheNode struct {
	NrPartial int
	Partial   list.DList
}

// MemCache manages fixed-size objects of Size bytes, drawn from buddy
// compounds of 2^Ord frames sized so each compound holds at least
// SlubMinObj objects (capped at SlubMaxOrd).
type MemCache struct {
	cpu klock.PerHart[MemCacheCpu]
	node *klock.Spin[MemCacheNode]

	size       uint64
	ord        uint
	nobjs      uint16
	minPartial int

	buddy *buddy.Buddy
	pages *page.Pages
}

// NewMemCache returns a MemCache for objSize-byte objects aligned to align,
// drawing compounds from b and recording per-frame metadata in pages.
func NewMemCache(objSize, align uint64, b *buddy.Buddy, pages *page.Pages) *MemCache {
	size := alignUp(objSize, align)
	ord := cacheOrd(size)
	nobjs := ((uint64(1) << ord) * addr.PageSize) / size
	mc := &MemCache{
		size:       size,
		ord:        ord,
		nobjs:      uint16(nobjs),
		minPartial: 8,
		buddy:      b,
		pages:      pages,
	}
	mc.node = klock.NewSpin(MemCacheNode{})
	return mc
}

// Size returns the object size this cache serves.
func (mc *MemCache) Size() uint64 { return mc.size }

// Alloc returns one object, trying in order: the per-hart fast path, the
// global partial list, and finally a fresh compound from the buddy.
func (mc *MemCache) Alloc(hart int) (addr.VirtAddr, bool) {
	cg := mc.cpu.Acquire(hart)
	defer cg.Release()
	cpu := cg.Value()

	if a, ok := cpu.Freelist.Pop(); ok {
		return addr.VirtAddr(a), true
	}

	if va, ok := mc.allocFromPartial(hart, cpu); ok {
		return va, true
	}

	return mc.allocFromBuddy(hart, cpu)
}

func (mc *MemCache) allocFromPartial(hart int, cpu *MemCacheCpu) (addr.VirtAddr, bool) {
	ng := mc.node.Lock(hart)
	defer ng.Unlock()
	node := ng.Value()

	dn := node.Partial.PopFront()
	if dn == nil {
		return 0, false
	}
	node.NrPartial--

	pg := list.ContainerOf(dn, func(p *page.Page) *list.DNode { return &p.ListNode })

	fg := pg.FreelistLock.Lock(hart)
	cpu.Freelist.Swap(&pg.Freelist)
	fg.Unlock()

	pg.Inuse.Store(uint32(mc.nobjs))
	cpu.Page = pg

	a, _ := cpu.Freelist.Pop()
	return addr.VirtAddr(a), true
}

func (mc *MemCache) allocFromBuddy(hart int, cpu *MemCacheCpu) (addr.VirtAddr, bool) {
	frame, ok := mc.buddy.Alloc(hart, int(mc.ord))
	if !ok {
		return 0, false
	}

	mc.pages.SetHeadPage(frame, mc.ord)
	pg := mc.pages.At(frame)
	pg.Inuse.Store(uint32(mc.nobjs))
	pg.SetObjs(mc.nobjs)
	pg.Slub = unsafe.Pointer(mc)
	pg.Freelist.Reset()
	pg.ListNode = list.DNode{}

	cpu.Page = pg

	base := frame.ToVirt()
	for i := int(mc.nobjs) - 1; i >= 0; i-- {
		obj := base.Add(uint64(i) * mc.size)
		cpu.Freelist.Push(uintptr(obj))
	}

	a, _ := cpu.Freelist.Pop()
	return addr.VirtAddr(a), true
}

// Dealloc returns the object at va, whose containing frame is frame (the
// caller has already resolved it to the compound head via Pages), to this
// cache: the per-hart fast path if the object's page is the hart's current
// page, otherwise the page's own freelist with the full/empty partial-list
// transition bookkeeping described in SPEC_FULL.md §4.4.
func (mc *MemCache) Dealloc(hart int, va addr.VirtAddr, frame addr.PageFrame) {
	cg := mc.cpu.Acquire(hart)
	defer cg.Release()
	cpu := cg.Value()

	if cpu.Page != nil && mc.pages.FrameOf(cpu.Page) == frame {
		cpu.Freelist.Push(uintptr(va))
		return
	}

	pg := mc.pages.At(frame)

	var full bool
	fg := pg.FreelistLock.Lock(hart)
	full = pg.Freelist.Empty()
	pg.Freelist.Push(uintptr(va))
	fg.Unlock()

	empty := pg.Inuse.Add(^uint32(0)) == 0

	switch {
	case empty:
		ng := mc.node.Lock(hart)
		node := ng.Value()
		if node.NrPartial > mc.minPartial {
			lg := pg.ListLock.Lock(hart)
			pg.ListNode.Unlink()
			lg.Unlock()
			node.NrPartial--
			ng.Unlock()
			mc.buddy.Free(hart, frame, int(mc.ord))
			return
		}
		ng.Unlock()
	case full:
		ng := mc.node.Lock(hart)
		node := ng.Value()
		lg := pg.ListLock.Lock(hart)
		node.Partial.PushFront(&pg.ListNode)
		lg.Unlock()
		node.NrPartial++
		ng.Unlock()
	}
}

// Allocator dispatches allocation requests across the size-class table,
// bypassing the slab entirely for objects larger than the largest class.
type Allocator struct {
	caches []*MemCache
	buddy  *buddy.Buddy
	pages  *page.Pages
}

// newMemCacheForClass builds a MemCache directly from a precomputed
// SizeClasses entry, skipping the ord/nobjs derivation NewMemCache does at
// runtime since gencache already did it once at build time.
func newMemCacheForClass(c SizeClass, b *buddy.Buddy, pages *page.Pages) *MemCache {
	mc := &MemCache{
		size:       c.Size,
		ord:        uint(c.Ord),
		nobjs:      c.NObjs,
		minPartial: c.MinPartial,
		buddy:      b,
		pages:      pages,
	}
	mc.node = klock.NewSpin(MemCacheNode{})
	return mc
}

// NewAllocator builds one MemCache per entry in SizeClasses.
func NewAllocator(b *buddy.Buddy, pages *page.Pages) *Allocator {
	a := &Allocator{buddy: b, pages: pages}
	for _, c := range SizeClasses {
		a.caches = append(a.caches, newMemCacheForClass(c, b, pages))
	}
	return a
}

// Alloc returns size bytes, dispatched to the smallest size class that
// fits, or a raw buddy compound for requests larger than every class.
func (a *Allocator) Alloc(hart int, size uint64) (addr.VirtAddr, bool) {
	largest := SizeClasses[len(SizeClasses)-1].Size
	if size <= largest {
		idx := sort.Search(len(SizeClasses), func(i int) bool { return SizeClasses[i].Size >= size })
		return a.caches[idx].Alloc(hart)
	}

	ord := ceilLog2((size + addr.PageSize - 1) / addr.PageSize)
	frame, ok := a.buddy.Alloc(hart, int(ord))
	if !ok {
		return 0, false
	}
	a.pages.SetHeadPage(frame, ord)
	pg := a.pages.At(frame)
	pg.Slub = nil
	pg.SetOrd(uint16(ord))
	return frame.ToVirt(), true
}

// Free returns the object at va to whichever cache or the buddy allocated
// it, recovering the compound via the page table's head-page bookkeeping.
func (a *Allocator) Free(hart int, va addr.VirtAddr) {
	frame := va.ToPhys().PageFrame()
	head := a.pages.HeadPageOf(frame)
	pg := a.pages.At(head)

	if pg.Slub == nil {
		a.buddy.Free(hart, head, int(pg.Ord()))
		return
	}
	mc := (*MemCache)(pg.Slub)
	mc.Dealloc(hart, va, head)
}
