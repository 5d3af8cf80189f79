package textlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpen_WritesHeaderOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "alerts.log")
	w, err := Open(path, "# header", "-----")
	if err != nil {
		t.Fatalf("Open #1: %v", err)
	}
	if err := w.Append("line one"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = w.Close()

	w, err = Open(path, "# header", "-----")
	if err != nil {
		t.Fatalf("Open #2: %v", err)
	}
	if err := w.Append("line two"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 || lines[0] != "# header" || lines[3] != "line two" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestMetadataSuffix(t *testing.T) {
	t.Parallel()

	if got := MetadataSuffix(nil); got != "" {
		t.Fatalf("got=%q", got)
	}
	got := MetadataSuffix(map[string]string{"snr_db": "-12.3", "mesh": "home"})
	if got != " (mesh=home, snr_db=-12.3)" {
		t.Fatalf("got=%q", got)
	}
}

func TestDailyName(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	if got := DailyName("mesh-messages", ts); got != "mesh-messages-20240501.log" {
		t.Fatalf("got=%q", got)
	}
	if got := Stamp(ts); got != "2024-05-01 23:00:00" {
		t.Fatalf("stamp=%q", got)
	}
}
