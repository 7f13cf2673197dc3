// Package pagetable implements the kernel's Sv39 three-level page table:
// the page table entry bit layout, table construction, map/unmap-free
// walking, kernel mapping, and SATP activation.
package pagetable

import (
	"strings"
	"unsafe"

	"wcore/internal/addr"
)

// Flags are the low 8 bits of a PTE: permission and status bits.
type Flags uint8

const (
	V Flags = 1 << 0 // Valid
	R Flags = 1 << 1 // Readable
	W Flags = 1 << 2 // Writable
	X Flags = 1 << 3 // Executable
	U Flags = 1 << 4 // User-accessible
	G Flags = 1 << 5 // Global
	A Flags = 1 << 6 // Accessed
	D Flags = 1 << 7 // Dirty
)

const (
	flagMask  = 0xFF
	ppnShift  = 10
	ppnBits   = 44
	ppnMask64 = (uint64(1)<<ppnBits - 1) << ppnShift
)

// PTE is a single Sv39 page table entry: bit 0 V, bits 1-3 R/W/X, bit 4 U,
// bit 5 G, bit 6 A, bit 7 D, bits 10-53 PPN. Valid+RWX is a leaf;
// Valid+no-RWX is a pointer to the next level.
type PTE uint64

// NewPTE composes a PTE mapping frame with flags, forcing Valid.
func NewPTE(frame addr.PageFrame, flags Flags) PTE {
	flags |= V
	return PTE(uint64(flags&flagMask) | (uint64(frame) << ppnShift))
}

// Flags returns the entry's low 8 flag bits.
func (p PTE) Flags() Flags { return Flags(uint64(p) & flagMask) }

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool { return p.Flags()&V != 0 }

func (p PTE) rwx() bool { return p.Flags()&(R|W|X) != 0 }

// IsLeaf reports whether p is a valid leaf entry (V and at least one of R/W/X).
func (p PTE) IsLeaf() bool { return p.Valid() && p.rwx() }

// IsDir reports whether p is a valid directory pointer (V, no R/W/X).
func (p PTE) IsDir() bool { return p.Valid() && !p.rwx() }

// PageFrame returns the frame number encoded in the PPN field.
func (p PTE) PageFrame() addr.PageFrame {
	return addr.PageFrame((uint64(p) & ppnMask64) >> ppnShift)
}

// Clear resets p to the zero entry (not valid, no directory, no frame).
func (p *PTE) Clear() { *p = 0 }

// SetPageFrame updates the PPN field, leaving flags untouched.
func (p *PTE) SetPageFrame(f addr.PageFrame) {
	*p = PTE((uint64(*p) &^ ppnMask64) | (uint64(f) << ppnShift))
}

// SetFlags replaces the flag bits, always forcing Valid (matching the
// source's set_flags, which "sets flags, which will set VALID").
func (p *PTE) SetFlags(fl Flags) {
	fl |= V
	*p = PTE((uint64(*p) &^ flagMask) | uint64(fl))
}

// NextLevel returns a view over the directory p points to, if p is a valid
// directory entry.
func (p PTE) NextLevel() (*[512]PTE, bool) {
	if !p.IsDir() {
		return nil, false
	}
	va := p.PageFrame().ToVirt()
	return (*[512]PTE)(unsafe.Pointer(uintptr(va))), true //nolint:gosec // page-table walk
}

// String renders p's flag letters (or '.' if unset), in D A G U X W R V
// order, high bit to low; an invalid entry renders as all dots. The mapped
// physical address is not included.
func (p PTE) String() string {
	if !p.Valid() {
		return "........"
	}
	var b strings.Builder
	letter := func(fl Flags, c byte) {
		if p.Flags()&fl != 0 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	letter(D, 'D')
	letter(A, 'A')
	letter(G, 'G')
	letter(U, 'U')
	letter(X, 'X')
	letter(W, 'W')
	letter(R, 'R')
	letter(V, 'V')
	return b.String()
}
