// Package addr implements the kernel's physical/virtual address and page
// frame arithmetic.
//
// The kernel runs in the upper half of Sv39 virtual space: the linear map
// satisfies virt = phys + KBASE. Conversions between PhysAddr and VirtAddr
// in that mapping are total and never fail.
package addr

const (
	// PageShift is the base-2 exponent of the page size.
	PageShift = 12
	// PageSize is the size of a single page in bytes.
	PageSize = 1 << PageShift
	// PageMask masks the in-page offset of an address.
	PageMask = PageSize - 1

	// defaultKBase is the base of the kernel's linear map in virtual space
	// on real hardware, per the platform ABI in SPEC_FULL.md §6.
	defaultKBase VirtAddr = 0xFFFF_FFC0_0000_0000
)

// KBASE is the base of the kernel's linear map in virtual space: virt =
// phys + KBASE. It defaults to the real hardware value but is a var, not a
// const, so hosted tests and the CLI simulator can retarget the linear map
// onto ordinary heap-allocated "physical memory" that the host can actually
// dereference; production boot never changes it. See SetKBase.
var KBASE = defaultKBase

// SetKBase retargets the kernel linear map's base. Only the hosted test and
// simulator harnesses call this: it lets a []byte backing buffer allocated
// by the Go runtime stand in for physical RAM, by choosing KBASE so that
// PhysAddr(hostBufferAddr).ToVirt() lands back on the buffer itself.
func SetKBase(v VirtAddr) { KBASE = v }

// PhysAddr is an opaque physical address.
type PhysAddr uint64

// VirtAddr is an opaque virtual address.
type VirtAddr uint64

// Add returns pa+off.
func (pa PhysAddr) Add(off uint64) PhysAddr { return pa + PhysAddr(off) }

// Sub returns pa-off.
func (pa PhysAddr) Sub(off uint64) PhysAddr { return pa - PhysAddr(off) }

// Diff returns the byte distance from other to pa (pa - other).
func (pa PhysAddr) Diff(other PhysAddr) int64 { return int64(pa) - int64(other) }

// PageFrame returns the frame number containing pa.
func (pa PhysAddr) PageFrame() PageFrame { return PageFrame(pa >> PageShift) }

// NextPageFrame returns the frame number of the first frame at or after pa,
// i.e. ceil(pa/PageSize).
func (pa PhysAddr) NextPageFrame() PageFrame {
	return PageFrame((pa + PageMask) >> PageShift)
}

// RoundDown aligns pa down to a multiple of align, which must be a power of two.
func (pa PhysAddr) RoundDown(align uint64) PhysAddr {
	return PhysAddr(uint64(pa) &^ (align - 1))
}

// RoundUp aligns pa up to a multiple of align, which must be a power of two.
func (pa PhysAddr) RoundUp(align uint64) PhysAddr {
	return PhysAddr((uint64(pa) + align - 1) &^ (align - 1))
}

// ToVirt converts a physical address into its kernel linear-map virtual
// address. It is total: every physical address the kernel manages has a
// corresponding linear-map virtual address.
func (pa PhysAddr) ToVirt() VirtAddr { return VirtAddr(pa) + KBASE }

// Add returns va+off.
func (va VirtAddr) Add(off uint64) VirtAddr { return va + VirtAddr(off) }

// Sub returns va-off.
func (va VirtAddr) Sub(off uint64) VirtAddr { return va - VirtAddr(off) }

// Diff returns the byte distance from other to va (va - other).
func (va VirtAddr) Diff(other VirtAddr) int64 { return int64(va) - int64(other) }

// ToPhys converts a kernel linear-map virtual address back to a physical
// address. The caller must guarantee va lies in the linear map; conversion
// of an address outside [KBASE, KBASE+2^39) is meaningless but not checked
// here, mirroring the total-conversion contract of ToVirt.
func (va VirtAddr) ToPhys() PhysAddr { return PhysAddr(va - KBASE) }

// PageFrameRoundUp rounds va up to a page boundary and returns the PageFrame
// indexing that boundary in virtual-page-number space (used when iterating
// a map range expressed in virtual addresses).
func (va VirtAddr) PageFrameRoundUp() PageFrame {
	rounded := (uint64(va) + PageMask) &^ PageMask
	return PageFrame(rounded >> PageShift)
}

// PageFrame returns the frame number containing va (virtual-page-number
// space; not to be confused with a physical PageFrame unless va is known
// to lie in the linear map).
func (va VirtAddr) PageFrame() PageFrame { return PageFrame(va >> PageShift) }

// PageFrame is a physical page number (phys >> PageShift).
type PageFrame uint64

// ToPhys returns the physical address of the start of the frame.
func (f PageFrame) ToPhys() PhysAddr { return PhysAddr(f) << PageShift }

// ToVirt returns the linear-map virtual address of the start of the frame.
func (f PageFrame) ToVirt() VirtAddr { return f.ToPhys().ToVirt() }

// Add steps f forward by n frames.
func (f PageFrame) Add(n uint64) PageFrame { return f + PageFrame(n) }

// Less reports whether f sorts before other; PageFrame has a total order.
func (f PageFrame) Less(other PageFrame) bool { return f < other }
