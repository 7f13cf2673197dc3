// Package trap implements the kernel's trap path: the saved register
// context, scause decoding, handler dispatch by cause, and the no-lock
// panic path a trap handler falls back to when nothing claims the cause.
package trap

import (
	"fmt"

	"wcore/internal/hal"
	"wcore/internal/sbi"
)

// Context is the register state saved on trap entry: the source's
// interrupt::Context (32 general registers, sstatus, sepc).
type Context struct {
	Regs    [32]uint64
	Sstatus uint64
	Sepc    uint64
}

// causeInterruptBit is the top bit of scause: set for interrupts, clear for
// exceptions.
const causeInterruptBit = uint64(1) << 63

// Cause decodes an scause value into its interrupt/exception flag and code.
type Cause struct {
	Interrupt bool
	Code      uint64
}

// DecodeCause splits a raw scause value into a Cause.
func DecodeCause(scause uint64) Cause {
	return Cause{
		Interrupt: scause&causeInterruptBit != 0,
		Code:      scause &^ causeInterruptBit,
	}
}

func (c Cause) String() string {
	kind := "exception"
	if c.Interrupt {
		kind = "interrupt"
	}
	return fmt.Sprintf("%s %d", kind, c.Code)
}

// Handler processes one trapped exception or interrupt.
type Handler func(ctx *Context, cause Cause, stval uint64)

// Dispatcher routes a trap to the handler registered for its cause, falling
// back to Panic for anything unregistered — matching the source's
// interrupt_handler, which has no registration at all and panics on every
// cause.
type Dispatcher struct {
	exceptions map[uint64]Handler
	interrupts map[uint64]Handler
	sbi        sbi.Provider
}

// NewDispatcher returns a Dispatcher whose Panic path writes through p.
func NewDispatcher(p sbi.Provider) *Dispatcher {
	return &Dispatcher{
		exceptions: make(map[uint64]Handler),
		interrupts: make(map[uint64]Handler),
		sbi:        p,
	}
}

// HandleException registers h for the exception cause code.
func (d *Dispatcher) HandleException(code uint64, h Handler) { d.exceptions[code] = h }

// HandleInterrupt registers h for the interrupt cause code.
func (d *Dispatcher) HandleInterrupt(code uint64, h Handler) { d.interrupts[code] = h }

// Dispatch decodes scause and routes to the matching registered handler, or
// to Panic if none is registered.
func (d *Dispatcher) Dispatch(ctx *Context, scause, stval uint64) {
	cause := DecodeCause(scause)
	table := d.exceptions
	if cause.Interrupt {
		table = d.interrupts
	}
	if h, ok := table[cause.Code]; ok {
		h(ctx, cause, stval)
		return
	}
	d.Panic(fmt.Sprintf("unhandled trap: %s", cause), ctx)
}

// Install records handler as the trap entry point. Real hardware loads this
// into stvec directly; this module runs as a simulated hart (see
// internal/hal), so Install just routes through the same CSRWriter seam
// pagetable.Load uses.
func Install(w hal.CSRWriter, handler uintptr) {
	w.WriteSTVEC(handler)
}

// Panic is the trap path's last resort: it writes directly through the sbi
// console, one byte at a time, taking no lock — a trap handler must never
// block on a lock some other context might be holding — then calls the
// provider's Shutdown. It returns only if Shutdown does, as sbi.Hosted's
// does.
func (d *Dispatcher) Panic(msg string, ctx *Context) {
	line := fmt.Sprintf("panic: %s sepc=%#x\n", msg, ctx.Sepc)
	for i := 0; i < len(line); i++ {
		d.sbi.ConsolePutchar(line[i])
	}
	d.sbi.Shutdown()
}
