// Package sbi abstracts the legacy SBI (Supervisor Binary Interface) calls
// this kernel needs: console I/O, the timer, and shutdown. Real firmware
// reaches these through an ecall trapping to M-mode (SBI_CONSOLE_PUTCHAR=1,
// SBI_SET_TIMER=0, SBI_SHUTDOWN=8 in the legacy extension); this module
// targets a simulated hart, so Provider is the seam and Hosted is the only
// implementation, the same split internal/hal takes for CSR access.
package sbi

import "io"

// Provider is the console/timer/shutdown surface the kernel's boot and trap
// code depend on.
type Provider interface {
	// ConsolePutchar writes one byte to the console.
	ConsolePutchar(c byte)
	// ConsoleGetchar reads one byte from the console, reporting false if
	// none is available.
	ConsoleGetchar() (byte, bool)
	// SetTimer schedules the next timer interrupt at absolute time stime.
	SetTimer(stime uint64)
	// Shutdown powers the machine off. On real firmware it does not return;
	// Hosted only records the call and returns.
	Shutdown()
}

// Hosted is a Provider backed by an in-process writer and an input queue,
// for tests and cmd/wcoresim.
type Hosted struct {
	out   io.Writer
	in    []byte
	timer uint64

	// ShutdownCalled latches the first Shutdown call instead of actually
	// terminating the process, so callers (tests, the simulator's own main
	// loop) can observe it and unwind normally.
	ShutdownCalled bool
}

// NewHosted returns a Hosted Provider writing console output to out.
func NewHosted(out io.Writer) *Hosted {
	return &Hosted{out: out}
}

// Feed appends bytes to the input queue ConsoleGetchar drains.
func (h *Hosted) Feed(data []byte) {
	h.in = append(h.in, data...)
}

func (h *Hosted) ConsolePutchar(c byte) {
	h.out.Write([]byte{c}) //nolint:errcheck // console output is best-effort
}

func (h *Hosted) ConsoleGetchar() (byte, bool) {
	if len(h.in) == 0 {
		return 0, false
	}
	c := h.in[0]
	h.in = h.in[1:]
	return c, true
}

// SetTimer records the most recently requested timer deadline.
func (h *Hosted) SetTimer(stime uint64) { h.timer = stime }

// Timer returns the most recently requested timer deadline.
func (h *Hosted) Timer() uint64 { return h.timer }

// Shutdown latches ShutdownCalled; it does not terminate the process, since
// a hosted run has callers (tests, the simulator) who need to observe it.
func (h *Hosted) Shutdown() { h.ShutdownCalled = true }
