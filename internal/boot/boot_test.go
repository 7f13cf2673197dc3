package boot

import (
	"sync"
	"testing"

	"wcore/internal/addr"
	"wcore/internal/dtb"
)

func TestHart0SignalsReadiness(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	if Ready() {
		t.Fatal("Ready() should start false")
	}

	var timerInit, trapInit, dtbParsed, memInit bool
	info := Hart0(Hart0Hooks{
		InitTimer: func() { timerInit = true },
		InitTrap:  func() { trapInit = true },
		ParseDTB: func() BootInfo {
			dtbParsed = true
			return BootInfo{
				Hart:      0,
				DTB:       addr.PhysAddr(0x8200_0000),
				Memory:    []dtb.MemoryRegion{{Base: 0x8000_0000, Size: 0x0800_0000}},
				KernelEnd: addr.PhysAddr(0x8020_0000),
			}
		},
		InitMemory: func(BootInfo) { memInit = true },
	})

	if !timerInit || !trapInit || !dtbParsed || !memInit {
		t.Fatalf("hooks not all called: timer=%v trap=%v dtb=%v mem=%v", timerInit, trapInit, dtbParsed, memInit)
	}
	if !Ready() {
		t.Fatal("Hart0 should signal readiness")
	}
	if info.KernelEnd != addr.PhysAddr(0x8020_0000) {
		t.Fatalf("KernelEnd = %#x, want 0x8020_0000", info.KernelEnd)
	}
}

func TestHartNWaitsForHart0(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var wg sync.WaitGroup
	var trapInit bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		HartN(HartNHooks{InitTrap: func() { trapInit = true }})
	}()

	// HartN must not have run InitTrap before Signal is called.
	Signal()
	wg.Wait()

	if !trapInit {
		t.Fatal("HartN's InitTrap should have run after Signal")
	}
}
