package pagetable

import (
	"fmt"
	"strings"
	"unsafe"

	"wcore/internal/addr"
	"wcore/internal/buddy"
	"wcore/internal/hal"
)

const entriesPerTable = 512

// satpModeShift and satpPPNBits lay out the satp CSR for Sv39: mode in bits
// 60-63 (value 8 selects Sv39), root PPN in bits 0-43.
const (
	satpModeShift = 60
	satpModeSv39  = 8
	satpPPNBits   = 44
)

// levelBits is the number of VPN bits consumed per Sv39 radix level (9 bits,
// 512 entries) and levelCount the number of levels (2, 1, 0).
const (
	levelBits  = 9
	levelCount = 3
)

// PageTable is one level of the Sv39 three-level radix tree: 512 entries,
// exactly one page in size so it can be allocated directly from the buddy.
type PageTable struct {
	entries [entriesPerTable]PTE
}

// New allocates a fresh, zeroed root page table from b.
func New(hart int, b *buddy.Buddy) *PageTable {
	frame, ok := b.Alloc(hart, 0)
	if !ok {
		panic("pagetable: out of memory allocating root")
	}
	zeroFrame(frame)
	return (*PageTable)(unsafe.Pointer(uintptr(frame.ToVirt()))) //nolint:gosec // root backed by a buddy frame
}

func zeroFrame(f addr.PageFrame) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(f.ToVirt()))), addr.PageSize) //nolint:gosec
	for i := range b {
		b[i] = 0
	}
}

// PhysAddr returns the physical address backing pt's own storage.
func (pt *PageTable) PhysAddr() addr.PhysAddr {
	return addr.VirtAddr(uintptr(unsafe.Pointer(pt))).ToPhys() //nolint:gosec
}

// vpnIndices decomposes a virtual page frame number into its three 9-bit
// Sv39 radix indices, level 2 (root) first.
func vpnIndices(vpn addr.PageFrame) [levelCount]int {
	v := uint64(vpn)
	var idx [levelCount]int
	for i := 0; i < levelCount; i++ {
		idx[i] = int(v & (entriesPerTable - 1))
		v >>= levelBits
	}
	return idx
}

// WalkAlloc returns the level-0 PTE slot for vpn, allocating and zeroing
// any missing intermediate directory page along the way. It panics if an
// intermediate slot is already a leaf, since that would mean vpn collides
// with an existing huge mapping.
func (pt *PageTable) WalkAlloc(hart int, b *buddy.Buddy, vpn addr.PageFrame) *PTE {
	idx := vpnIndices(vpn)
	cur := &pt.entries

	for level := levelCount - 1; level > 0; level-- {
		e := &cur[idx[level]]

		if dir, ok := e.NextLevel(); ok {
			cur = dir
			continue
		}
		if e.Valid() {
			panic("pagetable: walk_alloc found a leaf where a directory was expected")
		}

		frame, ok := b.Alloc(hart, 0)
		if !ok {
			panic("pagetable: out of memory allocating a directory page")
		}
		zeroFrame(frame)
		*e = NewPTE(frame, V)

		dir, _ := e.NextLevel()
		cur = dir
	}

	return &cur[idx[0]]
}

// Map installs leaf PTEs covering [va, va+size) mapped to the physical
// range starting at pa, with the given flags (which must include at least
// one of R/W/X; Map always forces V). It panics on a remap: every leaf it
// installs must previously have been invalid, per SPEC_FULL.md's no-silent-
// overwrite invariant.
func (pt *PageTable) Map(hart int, b *buddy.Buddy, pa addr.PhysAddr, va addr.VirtAddr, size uint64, flags Flags) {
	start := va.PageFrame()
	end := va.Add(size).PageFrameRoundUp()
	ppf := pa.PageFrame()

	for f := start; f < end; f++ {
		pte := pt.WalkAlloc(hart, b, f)
		if pte.Valid() {
			panic(fmt.Sprintf("pagetable: remap at frame %#x", f))
		}
		pte.Clear()
		pte.SetPageFrame(ppf)
		pte.SetFlags(flags)
		ppf = ppf.Add(1)
	}
}

// KernelSegment describes one contiguous region of the kernel image or its
// physical memory pool to be identity-offset mapped by MapKernel.
type KernelSegment struct {
	Phys  addr.PhysAddr
	Virt  addr.VirtAddr
	Size  uint64
	Flags Flags
}

// MapKernel installs the kernel's own mappings: one Map call per segment,
// in order, so a caller passing {text: R|X, rodata: R, data/bss: R|W,
// [kernel_end, memory_end): R|W} ends up with the whole kernel image and
// its available physical memory mapped into the linear map, matching the
// segment-by-segment layout boot.BootInfo derives from the linker script.
func (pt *PageTable) MapKernel(hart int, b *buddy.Buddy, segs []KernelSegment) {
	for _, s := range segs {
		pt.Map(hart, b, s.Phys, s.Virt, s.Size, s.Flags)
	}
}

// AsSATP composes the satp CSR value selecting Sv39 mode with pt as the
// root page table.
func (pt *PageTable) AsSATP() uint64 {
	ppn := uint64(pt.PhysAddr().PageFrame()) & (uint64(1)<<satpPPNBits - 1)
	return uint64(satpModeSv39)<<satpModeShift | ppn
}

// Load activates pt as the running hart's address space: it writes satp and
// flushes stale translations.
func (pt *PageTable) Load(w hal.CSRWriter) {
	w.WriteSATP(pt.AsSATP())
	w.SfenceVMA()
}

// Destroy frees every directory page pt owns, recursively, back to b. It
// does not free pt's own root page; the caller (which allocated it via New
// or owns its frame some other way) is responsible for that.
func (pt *PageTable) Destroy(hart int, b *buddy.Buddy) {
	freeDir(hart, b, &pt.entries)
}

func freeDir(hart int, b *buddy.Buddy, dir *[entriesPerTable]PTE) {
	for i := range dir {
		e := &dir[i]
		if next, ok := e.NextLevel(); ok {
			freeDir(hart, b, next)
			b.Free(hart, e.PageFrame(), 0)
			e.Clear()
		}
	}
}

// String renders the page table as an indented tree, one line per valid
// entry, matching the source's format_dir debug walker: directories are
// descended recursively, and each leaf is followed by a line labeling its
// mapped size (4K at
// level 0, 2M at level 1, 1G at level 2 — Map itself only ever produces 4K
// leaves, but the formatter supports any level since a hand-built table or
// a future huge-page path could put a leaf higher).
func (pt *PageTable) String() string {
	var b strings.Builder
	formatDir(&b, &pt.entries, levelCount-1, 0, 0)
	return b.String()
}

var levelSize = [levelCount]string{"4K", "2M", "1G"}

func formatDir(b *strings.Builder, dir *[entriesPerTable]PTE, level int, indent int, baseVA uint64) {
	for i, e := range dir {
		if !e.Valid() {
			continue
		}

		va := baseVA | (uint64(i) << (uint(level)*levelBits + addr.PageShift))
		// Sign-extend the top VPN field the way a real Sv39 virtual address
		// must be: the gap between bit 38 and bit 63 has to match bit 38.
		if level == levelCount-1 && i >= entriesPerTable/2 {
			va |= 0xFFFF_FFC0_0000_0000
		}

		fmt.Fprintf(b, "%s%#016x -> %#016x %s\n", strings.Repeat("  ", indent), va, uint64(e.PageFrame().ToPhys()), e)

		if next, ok := e.NextLevel(); ok {
			formatDir(b, next, level-1, indent+1, va)
		} else {
			fmt.Fprintf(b, "%s  [%s leaf]\n", strings.Repeat("  ", indent), levelSize[level])
		}
	}
}
