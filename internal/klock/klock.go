// Package klock implements the kernel's synchronization primitives: a
// test-and-set spin lock that disables local interrupts for the duration of
// its critical section, a seqlock for many-reader/one-writer data, and a
// per-hart storage cell. All three are usable from trap/interrupt context,
// which is why locking is expressed as disable-interrupts-then-spin rather
// than anything that could block on a scheduler.
package klock

import (
	"sync/atomic"
)

// NHart is the maximum number of harts this build supports. It sizes every
// PerHart table and the host controller's per-hart interrupt-state tracking. A real boot image would size this from the DTB's cpus node;
// fixing it at compile time keeps the hosted core allocation-free.
const NHart = 8

// SpinLimit bounds how many times Spin.Lock will spin on contention before
// concluding a deadlock is in progress and panicking. It is a var, not a
// const, so tests can lower it to exercise the deadlock path without
// actually spinning.
var SpinLimit = 50_000_000

// IRQController abstracts "disable/restore this hart's local interrupts",
// the one piece of the spin lock that must reach down to real hardware
// (the sstatus.SIE bit) on a real boot and can be simulated on a host. The
// boot path installs the real CSR-backed controller; tests and the CLI
// simulator use the default host controller installed at package init.
type IRQController interface {
	// Disable disables interrupts on hart and reports whether they were
	// enabled beforehand.
	Disable(hart int) (wasEnabled bool)
	// Restore restores hart's interrupt-enable state to wasEnabled.
	Restore(hart int, wasEnabled bool)
}

// hostIRQ is a software stand-in for hardware interrupt masking, used
// whenever no real IRQController has been installed (tests, the CLI
// simulator, and any host build). It tracks enabled state per hart so that
// Disable reports, and Restore puts back, a real previous state.
type hostIRQ struct {
	enabled [NHart]atomic.Bool
}

func newHostIRQ() *hostIRQ {
	h := &hostIRQ{}
	for i := range h.enabled {
		h.enabled[i].Store(true)
	}
	return h
}

func (h *hostIRQ) Disable(hart int) bool {
	return h.enabled[hart].Swap(false)
}

func (h *hostIRQ) Restore(hart int, wasEnabled bool) {
	h.enabled[hart].Store(wasEnabled)
}

var controller IRQController = newHostIRQ()

// SetController installs the IRQController used by all Spin/PerHart
// acquisitions. Called once at boot with the real CSR-backed controller;
// never called from within an interrupt handler.
func SetController(c IRQController) { controller = c }

// Spin is a test-and-set spin lock guarding a value of type T. Lock
// disables interrupts on the calling hart before spinning so that a timer
// tick can never re-enter a critical section already held by the hart it
// interrupted.
type Spin[T any] struct {
	flag  atomic.Bool
	owner atomic.Int32
	value T
}

// NewSpin returns a Spin initialized with v.
func NewSpin[T any](v T) *Spin[T] {
	s := &Spin[T]{value: v}
	s.owner.Store(-1)
	return s
}

// Init sets a Spin's owner to the unowned sentinel. It exists for Spins
// that are value-embedded in a larger struct and so never go through
// NewSpin — their owner field otherwise keeps its zero value, which
// collides with hart 0 and makes that hart's first Lock look reentrant.
// Callers must invoke Init before any Lock on such a Spin.
func (s *Spin[T]) Init() {
	s.owner.Store(-1)
}

// Guard is held while a Spin's critical section is active; it carries the
// interrupt state to restore on Unlock.
type Guard[T any] struct {
	s      *Spin[T]
	hart   int
	prevIE bool
}

// Lock acquires the spin lock on behalf of hart, returning a guard over the
// protected value. It panics immediately if hart already holds the lock
// (reentrant acquire is always a bug, never a blocking wait), and panics
// after SpinLimit failed attempts on the assumption that no amount of
// further spinning will help (deadlock, almost certainly against another
// hart).
func (s *Spin[T]) Lock(hart int) *Guard[T] {
	prevIE := controller.Disable(hart)
	if int(s.owner.Load()) == hart {
		controller.Restore(hart, prevIE)
		panic("klock: reentrant spin lock acquire by same hart")
	}
	for attempt := 0; !s.flag.CompareAndSwap(false, true); attempt++ {
		if attempt >= SpinLimit {
			controller.Restore(hart, prevIE)
			panic("klock: spin lock deadlock suspected")
		}
	}
	s.owner.Store(int32(hart))
	return &Guard[T]{s: s, hart: hart, prevIE: prevIE}
}

// Value returns a pointer to the protected value. Valid only while the
// guard is held.
func (g *Guard[T]) Value() *T { return &g.s.value }

// Unlock releases the lock and restores the calling hart's prior interrupt
// state.
func (g *Guard[T]) Unlock() {
	g.s.owner.Store(-1)
	g.s.flag.Store(false)
	controller.Restore(g.hart, g.prevIE)
}

// SeqLock protects T for many concurrent readers and one writer at a time
// using an even/odd sequence counter: odd means a writer is active, and a
// reader whose before/after sequence numbers disagree (or which observed an
// odd sequence) must retry rather than trust what it read.
type SeqLock[T any] struct {
	seq   atomic.Uint64
	write Spin[struct{}]
	value T
}

// NewSeqLock returns a SeqLock initialized with v.
func NewSeqLock[T any](v T) *SeqLock[T] {
	s := &SeqLock[T]{value: v}
	s.write.owner.Store(-1)
	return s
}

// Read returns a consistent snapshot of the protected value, retrying any
// read that raced a writer.
func (s *SeqLock[T]) Read() T {
	for {
		before := s.seq.Load()
		if before&1 != 0 {
			continue
		}
		snapshot := s.value
		after := s.seq.Load()
		if before == after {
			return snapshot
		}
	}
}

// Write serializes with any other writer via an inner spin lock, then runs
// fn with exclusive access, bracketing it with the sequence counter's
// odd/even transition so concurrent readers can detect the race.
func (s *SeqLock[T]) Write(hart int, fn func(*T)) {
	g := s.write.Lock(hart)
	defer g.Unlock()
	s.seq.Add(1)
	fn(&s.value)
	s.seq.Add(1)
}

// PerHart holds one T per hart, indexed by hart id. Access is always
// through Acquire, which disables interrupts for the lifetime of the
// returned guard so the cell cannot be mutated by a tick on the same hart
// mid-update.
type PerHart[T any] struct {
	cells [NHart]T
}

// PerHartGuard is held while a PerHart cell is being accessed.
type PerHartGuard[T any] struct {
	p      *PerHart[T]
	hart   int
	prevIE bool
}

// Acquire disables interrupts on hart and returns a guard over hart's cell.
func (p *PerHart[T]) Acquire(hart int) *PerHartGuard[T] {
	prevIE := controller.Disable(hart)
	return &PerHartGuard[T]{p: p, hart: hart, prevIE: prevIE}
}

// Value returns a pointer to the calling hart's cell.
func (g *PerHartGuard[T]) Value() *T { return &g.p.cells[g.hart] }

// Release restores the hart's interrupt-enable state.
func (g *PerHartGuard[T]) Release() { controller.Restore(g.hart, g.prevIE) }
