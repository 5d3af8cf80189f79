package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"meshmon/internal/metrics"
	"meshmon/internal/model"
	"meshmon/internal/monitor"
	"meshmon/internal/store"
	"meshmon/internal/textlog"
)

// Fanout publishes each cycle to every sink in order. Publish calls are
// serialised so monitors of several meshes can share one Fanout.
type Fanout struct {
	mu    sync.Mutex
	sinks []monitor.Sink
}

func NewFanout(sinks ...monitor.Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add appends a sink. Nil sinks are ignored.
func (f *Fanout) Add(s monitor.Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Publish(ctx context.Context, c monitor.Cycle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertLine renders the console/log form of an event.
func AlertLine(e model.AlertEvent) string {
	return fmt.Sprintf("[%s] %s: %s", textlog.Stamp(e.Timestamp), e.Category.Label(), e.Message)
}

// Console prints alert lines and, in alert mode, a per-node summary when a
// node has nothing to report.
type Console struct {
	w           io.Writer
	showHealthy bool
	cycles      map[string]int
}

func NewConsole(w io.Writer, showHealthy bool) *Console {
	return &Console{w: w, showHealthy: showHealthy, cycles: map[string]int{}}
}

func (c *Console) Publish(_ context.Context, cycle monitor.Cycle) error {
	c.cycles[cycle.Mesh]++
	if c.showHealthy {
		fmt.Fprintf(c.w, "[%s] %s check cycle #%d\n", textlog.Stamp(cycle.At), cycle.Mesh, c.cycles[cycle.Mesh])
	}
	if !cycle.OK() {
		fmt.Fprintf(c.w, "  ⚠️ Failed to fetch node list\n")
		return nil
	}

	alerted := map[string]bool{}
	for _, e := range cycle.Events {
		alerted[e.NodeID] = true
		fmt.Fprintln(c.w, AlertLine(e))
	}
	if !c.showHealthy {
		return nil
	}
	for _, st := range cycle.Nodes {
		if alerted[st.Fact.NodeID] {
			continue
		}
		switch {
		case st.Fact.Present:
			fmt.Fprintf(c.w, "  ✓ %s is healthy (Battery: %s)\n", st.Fact.NodeID, batteryText(st.Fact.BatteryPercent))
		default:
			fmt.Fprintf(c.w, "  - %s not in node list\n", st.Fact.NodeID)
		}
	}
	fmt.Fprintln(c.w)
	return nil
}

func batteryText(b *int) string {
	if b == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d%%", *b)
}

// AlertHeader is written at the top of a new alert log.
func AlertHeader(now time.Time) []string {
	return []string{
		fmt.Sprintf("# Mesh Alert Log - Started %s", textlog.Stamp(now)),
		"# Format: [TIMESTAMP] LABEL: MESSAGE (metadata)",
	}
}

// AlertLog appends alert lines with their metadata to a text log.
type AlertLog struct {
	w *textlog.Writer
}

func NewAlertLog(w *textlog.Writer) *AlertLog {
	return &AlertLog{w: w}
}

func (a *AlertLog) Publish(_ context.Context, cycle monitor.Cycle) error {
	if len(cycle.Events) == 0 {
		return nil
	}
	lines := make([]string, 0, len(cycle.Events))
	for _, e := range cycle.Events {
		meta := map[string]string{"mesh": e.Mesh, "node": e.NodeID, "severity": string(e.Severity)}
		for k, v := range e.Metadata {
			meta[k] = v
		}
		lines = append(lines, AlertLine(e)+textlog.MetadataSuffix(meta))
	}
	return a.w.Append(lines...)
}

// CSV appends every node row of successful cycles to the snapshot CSV.
type CSV struct {
	path string
}

func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

func (s *CSV) Publish(_ context.Context, cycle monitor.Cycle) error {
	if !cycle.OK() || len(cycle.Nodes) == 0 {
		return nil
	}
	samples := make([]model.Sample, 0, len(cycle.Nodes))
	for _, st := range cycle.Nodes {
		samples = append(samples, metrics.FromStatus(cycle.Mesh, cycle.At, st))
	}
	if err := metrics.AppendCSV(s.path, samples); err != nil {
		return fmt.Errorf("append node samples: %w", err)
	}
	return nil
}

// History stores fired alerts.
type History struct {
	h store.History
}

func NewHistory(h store.History) *History {
	return &History{h: h}
}

func (s *History) Publish(ctx context.Context, cycle monitor.Cycle) error {
	return s.h.SaveEvents(ctx, cycle.Events)
}
