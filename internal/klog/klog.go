// Package klog provides the kernel's log output: a hand-written
// slog.Handler producing compact, single-line console records, written
// through an sbi.Provider's console instead of os.Stderr.
package klog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"wcore/internal/sbi"
)

// Options holds the handler's level filter; callers may mutate Level at
// runtime the same way the teacher's LogLevel *slog.LevelVar does.
var Options = &slog.HandlerOptions{
	Level: slog.LevelInfo,
}

// Handler implements slog.Handler over an sbi.Provider's console, one
// compact line per record: "[LVL] message key=val key2=val2".
type Handler struct {
	mu       *sync.Mutex
	provider sbi.Provider
	opts     *slog.HandlerOptions
	group    string
	attrs    []slog.Attr
}

// NewHandler returns a Handler writing through p.
func NewHandler(p sbi.Provider) *Handler {
	return &Handler{
		mu:       new(sync.Mutex),
		provider: p,
		opts:     Options,
	}
}

// NewLogger returns an slog.Logger backed by a fresh Handler over p.
func NewLogger(p sbi.Provider) *slog.Logger {
	return slog.New(NewHandler(p))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func levelTag(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DBG"
	case l < slog.LevelWarn:
		return "INF"
	case l < slog.LevelError:
		return "WRN"
	default:
		return "ERR"
	}
}

// Handle formats rec as one line and writes it through the console one
// byte at a time, under the handler's mutex so concurrent harts don't
// interleave their output.
func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s] %s", levelTag(rec.Level), rec.Message)

	for _, a := range h.attrs {
		h.appendAttr(&buf, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&buf, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	b := buf.Bytes()
	for i := range b {
		h.provider.ConsolePutchar(b[i])
	}
	return nil
}

func (h *Handler) appendAttr(buf *bytes.Buffer, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	fmt.Fprintf(buf, " %s=%v", key, a.Value.Any())
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	attrs := append([]slog.Attr(nil), h.attrs...)
	return &Handler{mu: h.mu, provider: h.provider, opts: h.opts, attrs: attrs, group: name}
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	as := append([]slog.Attr(nil), h.attrs...)
	as = append(as, attrs...)
	return &Handler{mu: h.mu, provider: h.provider, opts: h.opts, attrs: as, group: h.group}
}
