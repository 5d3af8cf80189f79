package messages

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"meshmon/internal/textlog"
)

const unknownNode = "Unknown"

// Message is a decoded packet line from the mesh CLI listen stream.
type Message struct {
	From     string
	To       string
	Text     string
	Metadata string
}

// ParseLine decodes lines like "From: !6984a7c8, To: ^all, Text: Hello mesh!".
// Only lines carrying a sender plus either text or telemetry are messages;
// everything else returns ok=false and is logged as informational.
func ParseLine(line string) (Message, bool) {
	if !strings.Contains(line, "From:") {
		return Message{}, false
	}
	hasText := strings.Contains(line, "Text:")
	if !hasText && !strings.Contains(strings.ToLower(line), "telemetry") {
		return Message{}, false
	}

	msg := Message{From: unknownNode, To: unknownNode, Text: line}
	if !hasText {
		msg.Metadata = "telemetry"
	}

	// Text runs to end of line so commas inside it survive.
	head := line
	if hasText {
		idx := strings.Index(line, "Text:")
		msg.Text = strings.TrimSpace(line[idx+len("Text:"):])
		head = line[:idx]
	}
	for _, part := range strings.Split(head, ",") {
		if _, v, ok := strings.Cut(part, "From:"); ok {
			msg.From = strings.TrimSpace(v)
		} else if _, v, ok := strings.Cut(part, "To:"); ok {
			msg.To = strings.TrimSpace(v)
		}
	}
	return msg, true
}

// Format renders "[TS] FROM -> TO | TEXT (metadata)".
func (m Message) Format(ts time.Time) string {
	entry := fmt.Sprintf("[%s] %s -> %s | %s", textlog.Stamp(ts), m.From, m.To, m.Text)
	if m.Metadata != "" {
		entry += " (" + m.Metadata + ")"
	}
	return entry
}

// Header is written at the top of a new message log.
func Header(now time.Time) []string {
	return []string{
		fmt.Sprintf("# Mesh Message Log - Started %s", textlog.Stamp(now)),
		"# Format: [TIMESTAMP] FROM -> TO | MESSAGE",
		strings.Repeat("-", 80),
	}
}

// Logger writes decoded listen-stream lines to a log file and an echo writer.
type Logger struct {
	w    *textlog.Writer
	echo io.Writer
	log  *zap.Logger
	now  func() time.Time

	Messages int
	Events   int
}

func NewLogger(w *textlog.Writer, echo io.Writer, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{w: w, echo: echo, log: log, now: time.Now}
}

// Handle records one raw line from the listen stream. Blank lines are skipped.
func (l *Logger) Handle(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	ts := l.now()

	var entry string
	if msg, ok := ParseLine(line); ok {
		entry = msg.Format(ts)
		l.Messages++
	} else {
		entry = fmt.Sprintf("[%s] INFO: %s", textlog.Stamp(ts), line)
		l.Events++
	}

	if err := l.w.Append(entry); err != nil {
		l.log.Error("write message log failed", zap.Error(err))
	}
	if l.echo != nil {
		fmt.Fprintln(l.echo, entry)
	}
}
