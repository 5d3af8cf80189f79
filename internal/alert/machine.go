package alert

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"meshmon/internal/model"
)

const (
	DefaultBatteryThreshold = 20
	DefaultSignalThreshold  = -10.0
	DefaultCooldown         = time.Hour
)

// Options tunes the alert thresholds for one Machine.
type Options struct {
	Mesh             string
	BatteryThreshold int
	SignalThreshold  float64
	Cooldown         time.Duration
	NotifyRecovery   bool
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		BatteryThreshold: DefaultBatteryThreshold,
		SignalThreshold:  DefaultSignalThreshold,
		Cooldown:         DefaultCooldown,
	}
}

// Machine decides which alerts fire for a stream of health facts. It owns
// the suppression and presence state of exactly one monitored mesh and is
// not safe for concurrent use.
type Machine struct {
	opts Options

	lastFired  map[model.AlertKey]time.Time
	everSeen   map[string]struct{}
	wasOffline map[string]bool

	newID func() string
}

// NewMachine builds a Machine with empty state.
func NewMachine(opts Options) *Machine {
	return &Machine{
		opts:       opts,
		lastFired:  make(map[model.AlertKey]time.Time),
		everSeen:   make(map[string]struct{}),
		wasOffline: make(map[string]bool),
		newID:      func() string { return uuid.NewString() },
	}
}

// Evaluate applies one observation of nodeID at now and returns the events
// to emit, ordered offline, low-battery, weak-signal.
func (m *Machine) Evaluate(nodeID string, fact model.HealthFact, now time.Time) []model.AlertEvent {
	var events []model.AlertEvent

	if !fact.Present {
		if _, seen := m.everSeen[nodeID]; seen && !m.wasOffline[nodeID] {
			m.wasOffline[nodeID] = true
			events = append(events, m.event(now, nodeID, model.CategoryOffline, model.SeverityCritical,
				fmt.Sprintf("Node %s is OFFLINE (not in node list)", nodeID), nil))
		}
		return events
	}

	m.everSeen[nodeID] = struct{}{}
	if m.wasOffline[nodeID] {
		delete(m.wasOffline, nodeID)
		if m.opts.NotifyRecovery {
			events = append(events, m.event(now, nodeID, model.CategoryOnline, model.SeverityInfo,
				fmt.Sprintf("Node %s is back ONLINE", nodeID), nil))
		}
	}

	if b := fact.BatteryPercent; b != nil && *b <= m.opts.BatteryThreshold {
		key := model.AlertKey{NodeID: nodeID, Category: model.CategoryLowBattery}
		if m.allow(key, now) {
			events = append(events, m.event(now, nodeID, model.CategoryLowBattery, model.SeverityWarning,
				fmt.Sprintf("Node %s battery LOW: %d%%", nodeID, *b),
				map[string]string{"battery_pct": strconv.Itoa(*b), "threshold_pct": strconv.Itoa(m.opts.BatteryThreshold)}))
		}
	}

	if snr := fact.SNRDb; snr != nil && *snr < m.opts.SignalThreshold {
		key := model.AlertKey{NodeID: nodeID, Category: model.CategoryWeakSignal}
		if m.allow(key, now) {
			value := strconv.FormatFloat(*snr, 'f', -1, 64)
			events = append(events, m.event(now, nodeID, model.CategoryWeakSignal, model.SeverityWarning,
				fmt.Sprintf("Node %s has WEAK signal: %sdB", nodeID, value),
				map[string]string{"snr_db": value}))
		}
	}

	return events
}

// allow records a firing for key unless the previous one is within the cooldown.
func (m *Machine) allow(key model.AlertKey, now time.Time) bool {
	if last, ok := m.lastFired[key]; ok && now.Sub(last) <= m.opts.Cooldown {
		return false
	}
	m.lastFired[key] = now
	return true
}

func (m *Machine) event(now time.Time, nodeID string, cat model.Category, sev model.Severity, msg string, meta map[string]string) model.AlertEvent {
	return model.AlertEvent{
		ID:        m.newID(),
		Mesh:      m.opts.Mesh,
		Timestamp: now,
		NodeID:    nodeID,
		Category:  cat,
		Severity:  sev,
		Message:   msg,
		Metadata:  meta,
	}
}

// LastFired reports when key last produced an event.
func (m *Machine) LastFired(key model.AlertKey) (time.Time, bool) {
	t, ok := m.lastFired[key]
	return t, ok
}

// Seen lists every node observed present since the Machine was created, sorted.
func (m *Machine) Seen() []string {
	ids := make([]string, 0, len(m.everSeen))
	for id := range m.everSeen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Offline reports whether nodeID is currently in the offline state.
func (m *Machine) Offline(nodeID string) bool {
	return m.wasOffline[nodeID]
}
