package memblock

import (
	"testing"

	"wcore/internal/addr"
)

func TestAddMergesTouchingRegions(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x1000)
	m.Add(addr.PhysAddr(0x2000), 0x1000) // touches the first region's end
	m.Add(addr.PhysAddr(0x5000), 0x1000) // disjoint

	got := m.MemoryRegions()
	if len(got) != 2 {
		t.Fatalf("expected 2 merged regions, got %d: %+v", len(got), got)
	}
	if got[0].Base != 0x1000 || got[0].Size != 0x2000 {
		t.Fatalf("merged region wrong: %+v", got[0])
	}
	if got[1].Base != 0x5000 || got[1].Size != 0x1000 {
		t.Fatalf("second region wrong: %+v", got[1])
	}
}

func TestAddRejectsOverlap(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x2000)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overlapping Add")
		}
	}()
	m.Add(addr.PhysAddr(0x2000), 0x1000)
}

// TestReserveScenarioS4 is the spec's S4: add(0x8000_0000, 0x0800_0000) then
// reserve(0x8000_0000, 0x0020_0000) leaves memory = [{0x8020_0000,
// 0x07E0_0000}], reserved = [].
func TestReserveScenarioS4(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x8000_0000), 0x0800_0000)
	m.Reserve(addr.PhysAddr(0x8000_0000), 0x0020_0000)

	mem := m.MemoryRegions()
	if len(mem) != 1 {
		t.Fatalf("expected 1 memory region, got %+v", mem)
	}
	if mem[0].Base != 0x8020_0000 || mem[0].Size != 0x07E0_0000 {
		t.Fatalf("memory region wrong: %+v", mem[0])
	}

	res := m.ReservedRegions()
	if len(res) != 0 {
		t.Fatalf("expected no reserved regions, got %+v", res)
	}
}

func TestReserveTailAligned(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x4000) // [0x1000, 0x5000)
	m.Reserve(addr.PhysAddr(0x4000), 0x1000)

	mem := m.MemoryRegions()
	if len(mem) != 1 || mem[0].Base != 0x1000 || mem[0].Size != 0x3000 {
		t.Fatalf("memory region wrong: %+v", mem)
	}
}

func TestReserveInteriorSplits(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x5000) // [0x1000, 0x6000)
	m.Reserve(addr.PhysAddr(0x2000), 0x1000)

	mem := m.MemoryRegions()
	if len(mem) != 2 {
		t.Fatalf("expected split into 2 regions, got %+v", mem)
	}
	if mem[0].Base != 0x1000 || mem[0].Size != 0x1000 {
		t.Fatalf("head region wrong: %+v", mem[0])
	}
	if mem[1].Base != 0x3000 || mem[1].Size != 0x3000 {
		t.Fatalf("tail region wrong: %+v", mem[1])
	}
}

func TestReserveWidensAcrossMultipleRegions(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x1000) // [0x1000, 0x2000)
	m.Add(addr.PhysAddr(0x3000), 0x1000) // [0x3000, 0x4000)

	m.Reserve(addr.PhysAddr(0x1000), 0x3000) // spans both regions and the gap

	mem := m.MemoryRegions()
	if len(mem) != 0 {
		t.Fatalf("expected both regions consumed, got %+v", mem)
	}
	res := m.ReservedRegions()
	if len(res) != 1 || res[0].Base != 0x1000 || res[0].Size != 0x3000 {
		t.Fatalf("widened reservation wrong: %+v", res)
	}
}

func TestReserveOverlappingReservedPanics(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x4000)
	// Outside every memory region, so it is recorded in reserved (a
	// reservation trimmed out of a single memory region is not; see S4).
	m.Reserve(addr.PhysAddr(0x8000), 0x1000)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reserving over an existing reservation")
		}
	}()
	m.Reserve(addr.PhysAddr(0x8800), 0x1000)
}

func TestAllocCarvesLowestRegion(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x3000), 0x1000)
	m.Add(addr.PhysAddr(0x1000), 0x1000) // lower base, added second, with a gap so it doesn't merge

	got := m.Alloc(0x800, 0x100)
	if got != 0x1000 {
		t.Fatalf("Alloc should prefer the lowest region: got %#x", got)
	}

	mem := m.MemoryRegions()
	if len(mem) != 2 || mem[0].Base != 0x1800 || mem[0].Size != 0x800 {
		t.Fatalf("remaining region wrong: %+v", mem)
	}
}

func TestAllocAlignment(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1010), 0x1000)

	got := m.Alloc(0x100, 0x100)
	if got != 0x1100 {
		t.Fatalf("Alloc should round up to alignment: got %#x", got)
	}
}

func TestAllocExhaustionPanics(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x100)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-memory Alloc")
		}
	}()
	m.Alloc(0x1000, 1)
}

func TestFreeAllDrainsToSink(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x1000)
	m.Add(addr.PhysAddr(0x3000), 0x1000)

	var got []Region
	m.FreeAll(func(base addr.PhysAddr, size uint64) {
		got = append(got, Region{Base: base, Size: size})
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 regions handed to sink, got %+v", got)
	}
	if len(m.MemoryRegions()) != 0 {
		t.Fatal("expected memblock to be empty after FreeAll")
	}
}

// TestInvariantSortedDisjointNonTouching checks invariant 5: memory and
// reserved arrays stay sorted, pairwise disjoint, and non-touching
// (touching regions are merged, not left adjacent) after a mixed sequence
// of operations.
func TestInvariantSortedDisjointNonTouching(t *testing.T) {
	var m MemBlock
	m.Add(addr.PhysAddr(0x1000), 0x1000)
	m.Add(addr.PhysAddr(0x5000), 0x1000)
	m.Add(addr.PhysAddr(0x3000), 0x1000)
	m.Reserve(addr.PhysAddr(0x3000), 0x800)

	checkSortedDisjoint(t, m.MemoryRegions())
	checkSortedDisjoint(t, m.ReservedRegions())
}

func checkSortedDisjoint(t *testing.T, rs []Region) {
	t.Helper()
	for i := 1; i < len(rs); i++ {
		if rs[i-1].End() >= rs[i].Base {
			t.Fatalf("regions %d,%d not sorted/disjoint/non-touching: %+v, %+v", i-1, i, rs[i-1], rs[i])
		}
	}
}
