package sink

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"meshmon/internal/model"
	"meshmon/internal/monitor"
	"meshmon/internal/textlog"
)

const (
	clearScreen = "\033[2J\033[H"
	ruleWidth   = 80
	nameWidth   = 25
)

// Terminal redraws a full-screen node table after every cycle.
type Terminal struct {
	w       io.Writer
	started time.Time
	clear   bool
}

// NewTerminal returns a dashboard renderer. Uptime is measured from started.
// clear controls whether the screen is wiped before each frame.
func NewTerminal(w io.Writer, started time.Time, clear bool) *Terminal {
	return &Terminal{w: w, started: started, clear: clear}
}

func (t *Terminal) Publish(_ context.Context, cycle monitor.Cycle) error {
	var b strings.Builder
	if t.clear {
		b.WriteString(clearScreen)
	}
	rule := strings.Repeat("=", ruleWidth)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "MESHTASTIC MESH MONITOR [%s] - %s\n", cycle.Mesh, textlog.Stamp(cycle.At))
	fmt.Fprintln(&b, rule)

	if !cycle.OK() {
		fmt.Fprintln(&b, "⚠ Unable to fetch node information")
		_, err := io.WriteString(t.w, b.String())
		return err
	}

	nodes := presentNodes(cycle.Nodes)
	withSNR := 0
	for _, st := range nodes {
		if st.Fact.SNRDb != nil {
			withSNR++
		}
	}

	fmt.Fprintf(&b, "\n📊 MESH STATISTICS\n")
	fmt.Fprintf(&b, "  Total Nodes: %d\n", len(nodes))
	fmt.Fprintf(&b, "  Monitor Uptime: %s\n", Uptime(cycle.At.Sub(t.started)))
	fmt.Fprintf(&b, "  Nodes with SNR data: %d\n", withSNR)

	fmt.Fprintf(&b, "\n📡 ACTIVE NODES\n")
	fmt.Fprintf(&b, "%-12s %-25s %-8s %-6s %-8s %s\n", "NODE ID", "NAME", "SNR", "HOPS", "BATTERY", "LAST HEARD")
	fmt.Fprintln(&b, strings.Repeat("-", ruleWidth))
	for _, st := range nodes {
		f := st.Fact
		fmt.Fprintf(&b, "%-12s %-25s %-8s %-6s %-8s %s\n",
			f.NodeID,
			truncate(orDefault(f.DisplayName, "Unknown"), nameWidth),
			snrCell(f.SNRDb, st.Tier),
			orDefault(f.HopsAway, "N/A"),
			batteryText(f.BatteryPercent),
			orDefault(f.LastHeard, "N/A"),
		)
	}
	fmt.Fprintf(&b, "\n%s\n", rule)
	fmt.Fprintln(&b, "Press Ctrl+C to exit")

	_, err := io.WriteString(t.w, b.String())
	return err
}

// Uptime renders d as "Xh Ym".
func Uptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func presentNodes(all []model.NodeStatus) []model.NodeStatus {
	out := make([]model.NodeStatus, 0, len(all))
	for _, st := range all {
		if st.Fact.Present {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fact.NodeID < out[j].Fact.NodeID })
	return out
}

func snrCell(snr *float64, tier model.SignalTier) string {
	if snr == nil {
		return "N/A"
	}
	v := strconv.FormatFloat(*snr, 'f', -1, 64) + "dB"
	switch tier {
	case model.TierGood:
		return "✓ " + v
	case model.TierModerate:
		return "~ " + v
	case model.TierPoor:
		return "✗ " + v
	default:
		return v
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
