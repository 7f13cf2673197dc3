// Package buddy implements the kernel's page-frame buddy allocator: ORDER
// free lists of power-of-two runs of 4 KiB frames, split on allocation and
// coalesced on free via the classic XOR-buddy search.
package buddy

import (
	"math/bits"

	"wcore/internal/addr"
	"wcore/internal/klock"
	"wcore/internal/list"
)

// Order is the number of free lists; list k holds aligned 2^k-frame runs,
// so the largest run the buddy can track is 2^(Order-1) frames (512 frames
// = 2 MiB at Order=10).
const Order = 10

type freeLists = [Order]list.LinkedList

// Buddy is the page-frame buddy allocator. The entire free-list array is
// guarded by a single spin lock; every operation is O(Order) while held.
type Buddy struct {
	lock *klock.Spin[freeLists]
}

// New returns an empty Buddy with no free memory yet published.
func New() *Buddy {
	return &Buddy{lock: klock.NewSpin(freeLists{})}
}

// AddFreeMemory publishes the frame range [start, end) as available,
// greedily carving it into maximal aligned power-of-two runs: at each step
// it takes the smaller of the largest power-of-two dividing the current
// frame number and the largest power-of-two not exceeding the remaining
// length, publishes that run on the matching free list, and advances.
func (b *Buddy) AddFreeMemory(hart int, start, end addr.PageFrame) {
	g := b.lock.Lock(hart)
	defer g.Unlock()
	fl := g.Value()

	cur := uint64(start)
	stop := uint64(end)
	for cur < stop {
		remaining := stop - cur
		maxByRemaining := uint64(1) << (bits.Len64(remaining) - 1)

		size := maxByRemaining
		if cur != 0 {
			lowBit := cur & (^cur + 1)
			if lowBit < size {
				size = lowBit
			}
		}

		ord := bits.TrailingZeros64(size)
		if ord > Order-1 {
			ord = Order - 1
			size = 1 << ord
		}

		fl[ord].Push(uintptr(addr.PageFrame(cur).ToVirt()))
		cur += size
	}
}

// Alloc returns one 2^ord-frame run, splitting a larger run from the first
// non-empty free list at or above ord if needed. It reports false if no
// list at or above ord has a run available.
func (b *Buddy) Alloc(hart int, ord int) (addr.PageFrame, bool) {
	g := b.lock.Lock(hart)
	defer g.Unlock()
	fl := g.Value()

	for j := ord; j < Order; j++ {
		if fl[j].Empty() {
			continue
		}
		for k := j; k > ord; k-- {
			a, _ := fl[k].Pop()
			frame := addr.VirtAddr(a).ToPhys().PageFrame()
			upper := frame.Add(uint64(1) << (k - 1))
			fl[k-1].Push(uintptr(upper.ToVirt()))
			fl[k-1].Push(uintptr(frame.ToVirt()))
		}
		a, _ := fl[ord].Pop()
		return addr.VirtAddr(a).ToPhys().PageFrame(), true
	}
	return 0, false
}

// Free returns a 2^ord-frame run starting at frame to the allocator,
// iteratively coalescing with its buddy at each level below the top order
// as long as the buddy is found free.
func (b *Buddy) Free(hart int, frame addr.PageFrame, ord int) {
	g := b.lock.Lock(hart)
	defer g.Unlock()
	fl := g.Value()

	cur := frame
	for k := ord; k < Order; k++ {
		if k == Order-1 {
			// No level above the top order to continue coalescing into;
			// publish the fully-merged run here rather than drop it.
			fl[k].Push(uintptr(cur.ToVirt()))
			return
		}
		buddy := addr.PageFrame(uint64(cur) ^ (uint64(1) << k))
		if !fl[k].Remove(uintptr(buddy.ToVirt())) {
			fl[k].Push(uintptr(cur.ToVirt()))
			return
		}
		if buddy < cur {
			cur = buddy
		}
	}
}

// OrderStat describes one free list's current occupancy.
type OrderStat struct {
	Order  int
	Runs   int
	Frames uint64
	Bytes  uint64
}

// AllocStats is a point-in-time snapshot of the buddy's free-list
// occupancy, used by the diagnostics layer and by tests asserting the
// allocator's accounting invariants.
type AllocStats struct {
	Orders         []OrderStat
	TotalFreeBytes uint64
}

// Snapshot reports free-list occupancy per order without taking ownership
// of any run.
func (b *Buddy) Snapshot(hart int) AllocStats {
	g := b.lock.Lock(hart)
	defer g.Unlock()
	fl := g.Value()

	var stats AllocStats
	for k := 0; k < Order; k++ {
		runs := 0
		fl[k].Each(func(uintptr) { runs++ })
		if runs == 0 {
			continue
		}
		frames := uint64(runs) * (uint64(1) << k)
		bytes := frames * addr.PageSize
		stats.Orders = append(stats.Orders, OrderStat{Order: k, Runs: runs, Frames: frames, Bytes: bytes})
		stats.TotalFreeBytes += bytes
	}
	return stats
}
