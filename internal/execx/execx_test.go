package execx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOSRunner_Output(t *testing.T) {
	t.Parallel()

	out, err := NewOSRunner().Output(context.Background(), "sh", "-c", "printf '!a1\\n  SNR: 1dB\\n\\n'")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if out != "!a1\n  SNR: 1dB" {
		t.Fatalf("out=%q", out)
	}
}

func TestOSRunner_OutputNonZeroExit(t *testing.T) {
	t.Parallel()

	_, err := NewOSRunner().Output(context.Background(), "sh", "-c", "echo no radio >&2; exit 3")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "no radio") {
		t.Fatalf("err=%v", err)
	}
}

func TestOSRunner_OutputTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewOSRunner().Output(ctx, "sleep", "5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestOSRunner_Stream(t *testing.T) {
	t.Parallel()

	var lines []string
	err := NewOSRunner().Stream(context.Background(), func(line string) {
		lines = append(lines, line)
	}, "sh", "-c", "echo one; echo two >&2; echo three")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines=%v", lines)
	}
}

func TestOSRunner_StreamReturnsWhenGrandchildHoldsPipe(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var lines []string
	start := time.Now()
	err := NewOSRunner().Stream(ctx, func(line string) {
		lines = append(lines, line)
	}, "sh", "-c", "sleep 30 & echo started; wait")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Stream blocked for %s after cancel", elapsed)
	}
	if len(lines) != 1 || lines[0] != "started" {
		t.Fatalf("lines=%v", lines)
	}
}

func TestOSRunner_OutputReturnsWhenGrandchildHoldsPipe(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewOSRunner().Output(ctx, "sh", "-c", "sleep 30 & wait")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Output blocked for %s after cancel", elapsed)
	}
}
