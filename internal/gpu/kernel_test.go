//go:build !nogpu

package gpu

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestKernel_SetLogger(t *testing.T) {
	var k Kernel
	if k.logger() != discard {
		t.Error("logger() before SetLogger is not silent")
	}

	var buf bytes.Buffer
	k.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	k.logger().Debug("gpu: density dispatched")
	out := buf.String()
	for _, want := range []string{"component=gpu", "kernel=wgpu", "density dispatched"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q lacks %q", out, want)
		}
	}

	k.SetLogger(nil)
	if k.logger() != discard {
		t.Error("SetLogger(nil) did not silence the kernel")
	}
}
