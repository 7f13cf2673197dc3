package dtb

import (
	"encoding/binary"
	"fmt"
	"testing"
)

// buildFDT constructs a minimal synthetic flattened devicetree: a root node
// containing one memory@<base> node with a two-cell "reg" property.
func buildFDT(memBase, memSize uint64) []byte {
	var structBuf []byte
	putU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		structBuf = append(structBuf, b[:]...)
	}
	putName := func(name string) {
		structBuf = append(structBuf, []byte(name)...)
		structBuf = append(structBuf, 0)
		for len(structBuf)%4 != 0 {
			structBuf = append(structBuf, 0)
		}
	}

	putU32(tokenBeginNode)
	putName("")
	putU32(tokenBeginNode)
	putName(fmt.Sprintf("memory@%x", memBase))
	putU32(tokenProp)
	putU32(16)
	putU32(0) // "reg" sits at offset 0 in the strings block
	var reg [16]byte
	binary.BigEndian.PutUint64(reg[0:8], memBase)
	binary.BigEndian.PutUint64(reg[8:16], memSize)
	structBuf = append(structBuf, reg[:]...)
	putU32(tokenEndNode)
	putU32(tokenEndNode)
	putU32(tokenEnd)

	stringsBuf := append([]byte("reg"), 0)

	offStruct := uint32(headerSize)
	offStrings := offStruct + uint32(len(structBuf))
	total := offStrings + uint32(len(stringsBuf))

	buf := make([]byte, total)
	put := func(off int, v uint32) { binary.BigEndian.PutUint32(buf[off:off+4], v) }
	put(0, magic)
	put(4, total)
	put(8, offStruct)
	put(12, offStrings)
	put(16, 0)
	put(20, minSupportedVersion)
	put(24, 16)
	put(28, 0)
	put(32, uint32(len(stringsBuf)))
	put(36, uint32(len(structBuf)))
	copy(buf[offStruct:], structBuf)
	copy(buf[offStrings:], stringsBuf)
	return buf
}

func TestParseHeaderValid(t *testing.T) {
	buf := buildFDT(0x8000_0000, 0x0800_0000)
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Magic != magic {
		t.Fatalf("Magic = %#x, want %#x", h.Magic, magic)
	}
	if h.Version != minSupportedVersion {
		t.Fatalf("Version = %d, want %d", h.Version, minSupportedVersion)
	}
}

func TestParseHeaderBadMagic(t *testing.T) {
	buf := buildFDT(0x8000_0000, 0x0800_0000)
	binary.BigEndian.PutUint32(buf[0:4], 0)
	if _, err := ParseHeader(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseHeaderOldVersion(t *testing.T) {
	buf := buildFDT(0x8000_0000, 0x0800_0000)
	binary.BigEndian.PutUint32(buf[20:24], 16)
	if _, err := ParseHeader(buf); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestParseHeaderTooSmall(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 10)); err == nil {
		t.Fatal("expected error for undersized blob")
	}
}

func TestGetMemory(t *testing.T) {
	buf := buildFDT(0x8000_0000, 0x0800_0000)
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	regions, err := GetMemory(buf, h)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("len(regions) = %d, want 1", len(regions))
	}
	if regions[0].Base != 0x8000_0000 || regions[0].Size != 0x0800_0000 {
		t.Fatalf("region = %+v, want {0x80000000 0x8000000}", regions[0])
	}
}

func TestGetMemoryHighBase(t *testing.T) {
	// A memory node whose base lies above 4 GiB checks that both reg cells
	// are decoded as full 64-bit values, not truncated to 32 bits.
	buf := buildFDT(0x1_0000_0000, 0x4000_0000)
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	regions, err := GetMemory(buf, h)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if len(regions) != 1 || regions[0].Base != 0x1_0000_0000 || regions[0].Size != 0x4000_0000 {
		t.Fatalf("regions = %+v", regions)
	}
}
