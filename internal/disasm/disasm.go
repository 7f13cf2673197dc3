// Package disasm decodes the instruction at a trap's sepc, so a panic
// report can show what actually faulted instead of just the raw address.
package disasm

import (
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// Decode decodes the single instruction starting at code[0], returning its
// textual form.
func Decode(code []byte) (string, error) {
	inst, err := riscv64asm.Decode(code)
	if err != nil {
		return "", fmt.Errorf("disasm: %w", err)
	}
	return inst.String(), nil
}

// AtFault decodes the instruction at sepc within image, a byte slice
// mapping the kernel text segment starting at physical/virtual address
// base.
func AtFault(image []byte, sepc, base uint64) (string, error) {
	if sepc < base {
		return "", fmt.Errorf("disasm: sepc %#x before image base %#x", sepc, base)
	}
	off := sepc - base
	if off >= uint64(len(image)) {
		return "", fmt.Errorf("disasm: sepc %#x out of range for a %d-byte image", sepc, len(image))
	}
	return Decode(image[off:])
}
