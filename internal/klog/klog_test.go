package klog

import (
	"bytes"
	"strings"
	"testing"

	"wcore/internal/sbi"
)

func TestHandleFormatsOneLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(sbi.NewHosted(&buf))

	logger.Info("kernel ready", "hart", 0, "frames", 512)

	out := buf.String()
	if !strings.HasPrefix(out, "[INF] kernel ready") {
		t.Fatalf("output = %q, want prefix %q", out, "[INF] kernel ready")
	}
	if !strings.Contains(out, "hart=0") || !strings.Contains(out, "frames=512") {
		t.Fatalf("output = %q, missing expected attrs", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("output = %q, want trailing newline", out)
	}
}

func TestLevelTags(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(sbi.NewHosted(&buf))

	logger.Warn("low memory")
	logger.Error("alloc failed")

	out := buf.String()
	if !strings.Contains(out, "[WRN] low memory") {
		t.Fatalf("missing WRN line: %q", out)
	}
	if !strings.Contains(out, "[ERR] alloc failed") {
		t.Fatalf("missing ERR line: %q", out)
	}
}

func TestWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(sbi.NewHosted(&buf)).With("hart", 1).WithGroup("buddy")

	logger.Info("alloc", "order", 2)

	out := buf.String()
	if !strings.Contains(out, "hart=1") {
		t.Fatalf("missing outer attr: %q", out)
	}
	if !strings.Contains(out, "buddy.order=2") {
		t.Fatalf("missing grouped attr: %q", out)
	}
}
