package disasm

import "testing"

// nopEncoding is the canonical RV64I/RV32I nop: addi x0, x0, 0, encoded
// little-endian.
var nopEncoding = []byte{0x13, 0x00, 0x00, 0x00}

func TestDecodeNop(t *testing.T) {
	text, err := Decode(nopEncoding)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text == "" {
		t.Fatal("Decode returned an empty instruction text")
	}
}

func TestAtFault(t *testing.T) {
	image := append(append([]byte{0xAA, 0xAA, 0xAA, 0xAA}, nopEncoding...), 0, 0, 0, 0)
	base := uint64(0x8020_0000)

	text, err := AtFault(image, base+4, base)
	if err != nil {
		t.Fatalf("AtFault: %v", err)
	}
	if text == "" {
		t.Fatal("AtFault returned an empty instruction text")
	}
}

func TestAtFaultBeforeBase(t *testing.T) {
	if _, err := AtFault(nopEncoding, 0, 0x1000); err == nil {
		t.Fatal("expected an error for sepc before base")
	}
}

func TestAtFaultOutOfRange(t *testing.T) {
	if _, err := AtFault(nopEncoding, 0x1000, 0); err == nil {
		t.Fatal("expected an error for sepc past image end")
	}
}
