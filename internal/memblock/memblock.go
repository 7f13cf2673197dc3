// Package memblock implements the kernel's early-boot physical memory
// allocator: two fixed-capacity sorted region arrays, memory and reserved,
// populated from the DTB before the buddy allocator exists and handed off
// to it via FreeAll once it does.
//
// MemBlock is usable only from the boot hart before other harts or any
// interrupt handler can observe it; Alloc enforces that with a simple
// reentrancy guard rather than a real lock, matching the source's own
// single-thread contract.
package memblock

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"wcore/internal/addr"
)

// MaxRegions bounds each of the memory and reserved arrays, mirroring the
// source's const-generic MemBlock<N, M> sized at 128 entries per array.
const MaxRegions = 128

// Region describes one contiguous span of physical memory.
type Region struct {
	Base addr.PhysAddr
	Size uint64
}

// End returns the address just past the region.
func (r Region) End() addr.PhysAddr { return r.Base.Add(r.Size) }

// regionSet is a fixed-capacity array of regions kept sorted by Base and
// pairwise disjoint, merging adjacent regions whose endpoints touch.
type regionSet struct {
	r [MaxRegions]Region
	n int
}

func (s *regionSet) len() int { return s.n }

// search returns the index of the first region whose Base >= base, and
// whether that region's Base is exactly equal (an exact hit is always an
// error for Add, which forbids duplicate bases).
func (s *regionSet) search(base addr.PhysAddr) (pos int, exact bool) {
	pos = sort.Search(s.n, func(i int) bool { return s.r[i].Base >= base })
	exact = pos < s.n && s.r[pos].Base == base
	return pos, exact
}

func (s *regionSet) insertAt(pos int, reg Region) {
	if s.n >= MaxRegions {
		panic("memblock: region array full")
	}
	copy(s.r[pos+1:s.n+1], s.r[pos:s.n])
	s.r[pos] = reg
	s.n++
}

func (s *regionSet) removeAt(pos int) {
	copy(s.r[pos:s.n-1], s.r[pos+1:s.n])
	s.n--
}

// mergeAround merges the region at pos with its immediate predecessor
// and/or successor if their endpoints touch, leaving pos pointing at the
// (possibly now larger) merged region.
func (s *regionSet) mergeAround(pos int) {
	if pos+1 < s.n && s.r[pos].End() == s.r[pos+1].Base {
		s.r[pos].Size += s.r[pos+1].Size
		s.removeAt(pos + 1)
	}
	if pos > 0 && s.r[pos-1].End() == s.r[pos].Base {
		s.r[pos-1].Size += s.r[pos].Size
		s.removeAt(pos)
	}
}

// overlaps reports the half-open index range [lo, hi) of regions that
// overlap [base, base+size).
func (s *regionSet) overlaps(base addr.PhysAddr, size uint64) (lo, hi int) {
	end := base.Add(size)
	lo = sort.Search(s.n, func(i int) bool { return s.r[i].End() > base })
	hi = lo
	for hi < s.n && s.r[hi].Base < end {
		hi++
	}
	return lo, hi
}

// MemBlock tracks available physical memory (memory) and memory carved out
// for a specific purpose (reserved) during early boot.
type MemBlock struct {
	memory   regionSet
	reserved regionSet
	busy     atomic.Bool
}

// Add records [base, base+size) as available physical memory. It panics if
// the new region overlaps any existing memory or reserved region, or if the
// region array is already full.
func (m *MemBlock) Add(base addr.PhysAddr, size uint64) {
	if rlo, rhi := m.reserved.overlaps(base, size); rlo != rhi {
		panic("memblock: memory region overlaps a reservation")
	}
	pos, exact := m.memory.search(base)
	if exact {
		panic("memblock: memory region overlap")
	}
	if pos > 0 && m.memory.r[pos-1].End() > base {
		panic("memblock: memory region overlap")
	}
	if pos < m.memory.n && m.memory.r[pos].Base < base.Add(size) {
		panic("memblock: memory region overlap")
	}
	m.memory.insertAt(pos, Region{Base: base, Size: size})
	m.memory.mergeAround(pos)
}

// Reserve marks [base, base+size) as no longer available for Alloc or
// FreeAll. See SPEC_FULL.md §4.2 for the exact overlap policy: a reservation spanning exactly one memory region trims or splits
// it; a reservation spanning two or more is widened to cover all of them
// (logging a warning), rather than rejected, since real DTB reservation
// maps legitimately straddle region boundaries; a reservation that overlaps
// an existing reserved region, or that cannot fit in the reserved array, is
// fatal.
func (m *MemBlock) Reserve(base addr.PhysAddr, size uint64) {
	end := base.Add(size)

	if rlo, rhi := m.reserved.overlaps(base, size); rlo != rhi {
		panic("memblock: reservation overlaps existing reservation")
	}

	lo, hi := m.memory.overlaps(base, size)
	switch hi - lo {
	case 0:
		slog.Warn("memblock: reservation outside all memory regions", "base", base, "size", size)
		m.insertReserved(base, size)
		return
	case 1:
		mr := m.memory.r[lo]
		switch {
		case base <= mr.Base && end < mr.End():
			// Head-aligned: trim the head off the memory region.
			m.memory.r[lo] = Region{Base: end, Size: uint64(mr.End().Diff(end))}
		case base > mr.Base && end >= mr.End():
			// Tail-aligned: trim the tail off the memory region.
			m.memory.r[lo] = Region{Base: mr.Base, Size: uint64(base.Diff(mr.Base))}
		case base > mr.Base && end < mr.End():
			// Strictly interior: split into a head and a tail remainder.
			m.memory.r[lo] = Region{Base: mr.Base, Size: uint64(base.Diff(mr.Base))}
			tail := Region{Base: end, Size: uint64(mr.End().Diff(end))}
			m.memory.insertAt(lo+1, tail)
		default:
			// Exactly covers the memory region.
			m.memory.removeAt(lo)
		}
	default:
		widenLo := m.memory.r[lo].Base
		widenHi := m.memory.r[hi-1].End()
		if base < widenLo {
			widenLo = base
		}
		if end > widenHi {
			widenHi = end
		}
		slog.Warn("memblock: reservation widened across multiple memory regions",
			"requested_base", base, "requested_size", size,
			"regions", hi-lo)
		for i := lo; i < hi; i++ {
			m.memory.removeAt(lo)
		}
		m.insertReserved(widenLo, uint64(widenHi.Diff(widenLo)))
	}
}

func (m *MemBlock) insertReserved(base addr.PhysAddr, size uint64) {
	pos, exact := m.reserved.search(base)
	if exact {
		panic("memblock: reservation overlaps existing reservation")
	}
	m.reserved.insertAt(pos, Region{Base: base, Size: size})
	m.reserved.mergeAround(pos)
}

// Alloc carves size bytes, aligned to align (a power of two), out of the
// lowest-addressed memory region with enough room, and returns its base. It
// panics if no region is large enough, or if called reentrantly (Alloc is
// single-threaded by contract, used only during early boot on hart 0).
func (m *MemBlock) Alloc(size uint64, align uint64) addr.PhysAddr {
	if !m.busy.CompareAndSwap(false, true) {
		panic("memblock: Alloc is not reentrant")
	}
	defer m.busy.Store(false)

	for i := 0; i < m.memory.n; i++ {
		r := m.memory.r[i]
		start := r.Base.RoundUp(align)
		if start.Diff(r.Base) < 0 {
			continue
		}
		used := uint64(start.Diff(r.Base)) + size
		if used > r.Size {
			continue
		}
		switch {
		case start == r.Base && used == r.Size:
			m.memory.removeAt(i)
		case start == r.Base:
			m.memory.r[i] = Region{Base: start.Add(size), Size: r.Size - used}
		case used == r.Size:
			m.memory.r[i] = Region{Base: r.Base, Size: uint64(start.Diff(r.Base))}
		default:
			m.memory.r[i] = Region{Base: r.Base, Size: uint64(start.Diff(r.Base))}
			m.memory.insertAt(i+1, Region{Base: start.Add(size), Size: r.Size - used})
		}
		return start
	}
	panic(fmt.Sprintf("memblock: out of memory allocating %d bytes aligned to %d", size, align))
}

// FreeAll hands every remaining memory region to sink (the buddy
// allocator's AddFreeMemory) and empties the memory array. After FreeAll,
// the MemBlock is quiescent: Add and Reserve must not be called again.
func (m *MemBlock) FreeAll(sink func(base addr.PhysAddr, size uint64)) {
	for i := 0; i < m.memory.n; i++ {
		sink(m.memory.r[i].Base, m.memory.r[i].Size)
	}
	m.memory.n = 0
}

// MemoryRegions returns a snapshot of the current memory array, for tests
// and diagnostics. The returned slice is a copy; mutating it has no effect
// on the MemBlock.
func (m *MemBlock) MemoryRegions() []Region {
	out := make([]Region, m.memory.n)
	copy(out, m.memory.r[:m.memory.n])
	return out
}

// ReservedRegions returns a snapshot of the current reserved array.
func (m *MemBlock) ReservedRegions() []Region {
	out := make([]Region, m.reserved.n)
	copy(out, m.reserved.r[:m.reserved.n])
	return out
}
