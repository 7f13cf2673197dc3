// Package boot implements the kernel's hart-0-vs-other-harts control flow:
// hart 0 parses the devicetree, builds the initial memory and page-table
// state and signals readiness; every other hart waits for that signal
// before running its own per-hart initialization.
package boot

import (
	"sync/atomic"

	"wcore/internal/addr"
	"wcore/internal/dtb"
	"wcore/internal/pagetable"
)

// started is the release/acquire boot flag the source's STARTED atomic
// implements: hart 0 sets it once its own initialization is complete,
// every other hart spins on it before running its own per-hart init.
var started atomic.Bool

// Signal marks hart 0's initialization complete, releasing every hart
// spinning in WaitForHart0.
func Signal() { started.Store(true) }

// Ready reports whether hart 0 has signaled.
func Ready() bool { return started.Load() }

// WaitForHart0 spins until hart 0 signals readiness via Signal.
func WaitForHart0() {
	for !started.Load() {
	}
}

// Reset clears the boot flag. Only tests use this, to run the hart-0/hart-N
// sequence more than once within one process.
func Reset() { started.Store(false) }

// BootInfo is what hart 0 derives from the devicetree and hands to the rest
// of boot: the available physical memory, the kernel image's own extent,
// and the segment list MapKernel will install, matching the linker-supplied
// symbols text_start/rodata_start/data_start/bss_start/kernel_end.
type BootInfo struct {
	Hart       int
	DTB        addr.PhysAddr
	Memory     []dtb.MemoryRegion
	KernelEnd  addr.PhysAddr
	Segments   []pagetable.KernelSegment
}

// Hart0Hooks are the steps Hart0 drives, in order: timer init, trap vector
// install, devicetree parse, and the caller's own memory/page-table setup
// built from the resulting BootInfo.
type Hart0Hooks struct {
	InitTimer  func()
	InitTrap   func()
	ParseDTB   func() BootInfo
	InitMemory func(BootInfo)
}

// Hart0 runs hart 0's boot sequence, mirroring rust_main's hart==0 branch,
// and signals readiness when InitMemory returns.
func Hart0(hooks Hart0Hooks) BootInfo {
	hooks.InitTimer()
	hooks.InitTrap()
	info := hooks.ParseDTB()
	hooks.InitMemory(info)
	Signal()
	return info
}

// HartNHooks are the steps HartN drives after hart 0 signals: per-hart trap
// vector install, mirroring rust_main's else branch.
type HartNHooks struct {
	InitTrap func()
}

// HartN waits for hart 0's signal, then runs this hart's own init.
func HartN(hooks HartNHooks) {
	WaitForHart0()
	hooks.InitTrap()
}
