// Package dtb parses the flattened devicetree blob the bootloader hands the
// kernel at boot: the fixed binary header, and the memory node describing
// the physical RAM span to hand to memblock.
package dtb

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const magic = 0xd00dfeed

const minSupportedVersion = 17

const headerSize = 40

// Header is the FDT binary header (fdt_header in the devicetree spec): field
// order and widths match it exactly, all big-endian on the wire.
type Header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCPUIDPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

// ParseHeader validates and decodes the FDT header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("dtb: blob too small for header: %d bytes", len(b))
	}

	u32 := func(off int) uint32 { return binary.BigEndian.Uint32(b[off : off+4]) }
	h := Header{
		Magic:           u32(0),
		TotalSize:       u32(4),
		OffDtStruct:     u32(8),
		OffDtStrings:    u32(12),
		OffMemRsvmap:    u32(16),
		Version:         u32(20),
		LastCompVersion: u32(24),
		BootCPUIDPhys:   u32(28),
		SizeDtStrings:   u32(32),
		SizeDtStruct:    u32(36),
	}

	if h.Magic != magic {
		return Header{}, fmt.Errorf("dtb: bad magic %#x", h.Magic)
	}
	if h.Version < minSupportedVersion {
		return Header{}, fmt.Errorf("dtb: version %d is not supported", h.Version)
	}
	if uint64(h.TotalSize) > uint64(len(b)) {
		return Header{}, fmt.Errorf("dtb: total_size %d exceeds blob length %d", h.TotalSize, len(b))
	}

	return h, nil
}

// structure block token types, per the devicetree spec.
const (
	tokenBeginNode uint32 = 1
	tokenEndNode   uint32 = 2
	tokenProp      uint32 = 3
	tokenNop       uint32 = 4
	tokenEnd       uint32 = 9
)

// MemoryRegion is one <address, size> pair read from a memory node's "reg"
// property.
type MemoryRegion struct {
	Base uint64
	Size uint64
}

// align4 rounds n up to a multiple of 4, the structure block's token and
// property-data alignment.
func align4(n int) int { return (n + 3) &^ 3 }

func propName(b []byte, stringsOff, stringsSize uint32, nameOff uint32) (string, error) {
	start := int(stringsOff) + int(nameOff)
	if start < 0 || start >= len(b) || uint32(nameOff) >= stringsSize {
		return "", fmt.Errorf("dtb: property name offset %d out of range", nameOff)
	}
	end := start
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[start:end]), nil
}

// GetMemory walks h's structure block and returns the <address, size> pairs
// from every node whose name is "memory" or begins "memory@", reading their
// "reg" property as a sequence of 64-bit address/size cells (this module
// targets riscv64, where #address-cells and #size-cells are conventionally
// 2 at the root).
func GetMemory(b []byte, h Header) ([]MemoryRegion, error) {
	off := int(h.OffDtStruct)
	end := off + int(h.SizeDtStruct)
	if end > len(b) {
		return nil, fmt.Errorf("dtb: structure block extends past blob end")
	}

	var regions []MemoryRegion
	var inMemoryNode bool

	for off < end {
		if off+4 > len(b) {
			return nil, fmt.Errorf("dtb: truncated token at offset %d", off)
		}
		tok := binary.BigEndian.Uint32(b[off : off+4])
		off += 4

		switch tok {
		case tokenNop:
			continue

		case tokenEnd:
			return regions, nil

		case tokenBeginNode:
			nameEnd := off
			for nameEnd < len(b) && b[nameEnd] != 0 {
				nameEnd++
			}
			name := string(b[off:nameEnd])
			inMemoryNode = name == "memory" || strings.HasPrefix(name, "memory@")
			off = align4(nameEnd + 1)

		case tokenEndNode:
			inMemoryNode = false

		case tokenProp:
			if off+8 > len(b) {
				return nil, fmt.Errorf("dtb: truncated prop header at offset %d", off)
			}
			length := binary.BigEndian.Uint32(b[off : off+4])
			nameOff := binary.BigEndian.Uint32(b[off+4 : off+8])
			off += 8

			if inMemoryNode {
				name, err := propName(b, h.OffDtStrings, h.SizeDtStrings, nameOff)
				if err != nil {
					return nil, err
				}
				if name == "reg" {
					regs, err := parseReg(b[off : off+int(length)])
					if err != nil {
						return nil, err
					}
					regions = append(regions, regs...)
				}
			}

			off = align4(off + int(length))

		default:
			return nil, fmt.Errorf("dtb: unknown structure token %#x at offset %d", tok, off-4)
		}
	}

	return regions, fmt.Errorf("dtb: structure block ended without FDT_END")
}

func parseReg(data []byte) ([]MemoryRegion, error) {
	const cellPairSize = 16 // two 8-byte cells: address, size
	if len(data)%cellPairSize != 0 {
		return nil, fmt.Errorf("dtb: reg property length %d not a multiple of %d", len(data), cellPairSize)
	}
	regions := make([]MemoryRegion, 0, len(data)/cellPairSize)
	for i := 0; i < len(data); i += cellPairSize {
		regions = append(regions, MemoryRegion{
			Base: binary.BigEndian.Uint64(data[i : i+8]),
			Size: binary.BigEndian.Uint64(data[i+8 : i+16]),
		})
	}
	return regions, nil
}
