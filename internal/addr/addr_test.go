package addr

import "testing"

func TestPhysVirtRoundTrip(t *testing.T) {
	pa := PhysAddr(0x8040_0000)
	va := pa.ToVirt()
	if va != KBASE+VirtAddr(pa) {
		t.Fatalf("ToVirt: got %#x", va)
	}
	if got := va.ToPhys(); got != pa {
		t.Fatalf("round trip: got %#x want %#x", got, pa)
	}
}

func TestPageFrameRoundTrip(t *testing.T) {
	f := PageFrame(0x80200)
	va := f.ToVirt()
	if got := va.ToPhys().PageFrame(); got != f {
		t.Fatalf("PageFrame round trip: got %#x want %#x", got, f)
	}
}

func TestPageFrameArithmetic(t *testing.T) {
	pa := PhysAddr(0x8020_0000)
	if got := pa.PageFrame(); got != PageFrame(0x80200) {
		t.Fatalf("PageFrame: got %#x", got)
	}
	if got := PhysAddr(0x8020_0001).NextPageFrame(); got != PageFrame(0x80201) {
		t.Fatalf("NextPageFrame: got %#x", got)
	}
	if got := PhysAddr(0x8020_0000).NextPageFrame(); got != PageFrame(0x80200) {
		t.Fatalf("NextPageFrame exact: got %#x", got)
	}
}

func TestRoundUpDown(t *testing.T) {
	if got := PhysAddr(0x1001).RoundDown(PageSize); got != 0x1000 {
		t.Fatalf("RoundDown: got %#x", got)
	}
	if got := PhysAddr(0x1001).RoundUp(PageSize); got != 0x2000 {
		t.Fatalf("RoundUp: got %#x", got)
	}
}

func TestVirtPageFrameRoundUp(t *testing.T) {
	va := VirtAddr(0xFFFF_FFC0_8000_0001)
	f := va.PageFrameRoundUp()
	// f is indexed in virtual-page-number space, so it is compared as a
	// virtual page number rather than converted through the linear map.
	if f != PageFrame(0xFFFF_FFC0_8000_1000>>PageShift) {
		t.Fatalf("PageFrameRoundUp: got %#x", f)
	}
}

func TestDiff(t *testing.T) {
	a := PhysAddr(0x1000)
	b := PhysAddr(0x3000)
	if got := b.Diff(a); got != 0x2000 {
		t.Fatalf("Diff: got %d", got)
	}
}
