package textlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// TimestampLayout is the timestamp format used in every log line.
const TimestampLayout = "2006-01-02 15:04:05"

// Writer appends lines to a plain-text log file. The header is written only
// when the file is created.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open creates path with header lines if it does not exist yet and opens it
// for appending.
func Open(path string, header ...string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure log directory: %w", err)
	}
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	w := &Writer{path: path, f: f}
	if isNew && len(header) > 0 {
		if err := w.Append(header...); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return w, nil
}

// Append writes each line followed by a newline.
func (w *Writer) Append(lines ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if _, err := w.f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append log %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Stamp formats t for a log line.
func Stamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// DailyName returns prefix-YYYYMMDD.log for t.
func DailyName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s.log", prefix, t.Format("20060102"))
}

// MetadataSuffix renders " (k=v, k2=v2)" with keys sorted, or "" when empty.
func MetadataSuffix(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
