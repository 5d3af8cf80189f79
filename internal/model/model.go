package model

import "time"

// NodeRecord is one mesh participant's field snapshot from a single poll.
type NodeRecord struct {
	ID     string
	Fields map[string]string
}

// HealthFact is the typed view of a NodeRecord at one point in time.
// Optional numeric values are nil when the source field is missing or unparseable.
type HealthFact struct {
	NodeID         string
	Present        bool
	BatteryPercent *int
	SNRDb          *float64
	HopsAway       string
	LastHeard      string
	DisplayName    string
}

// SignalTier is the display grade of a node's SNR.
type SignalTier string

const (
	TierGood     SignalTier = "good"
	TierModerate SignalTier = "moderate"
	TierPoor     SignalTier = "poor"
	TierUnknown  SignalTier = "unknown"
)

// NodeStatus is one row of a poll cycle table.
type NodeStatus struct {
	Fact HealthFact
	Tier SignalTier
}

// Category identifies the kind of alert condition.
type Category string

const (
	CategoryOffline    Category = "offline"
	CategoryLowBattery Category = "low-battery"
	CategoryWeakSignal Category = "weak-signal"
	CategoryOnline     Category = "online"
)

// Label is the console/log label for a category.
func (c Category) Label() string {
	switch c {
	case CategoryOffline:
		return "ALERT"
	case CategoryLowBattery:
		return "ALERT"
	case CategoryWeakSignal:
		return "WARNING"
	case CategoryOnline:
		return "INFO"
	default:
		return "NOTICE"
	}
}

// Severity ranks alert events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertKey is the deduplication unit for cooldown tracking.
type AlertKey struct {
	NodeID   string
	Category Category
}

// AlertEvent is a single alert emitted to the sinks.
type AlertEvent struct {
	ID        string
	Mesh      string
	Timestamp time.Time
	NodeID    string
	Category  Category
	Severity  Severity
	Message   string
	Metadata  map[string]string
}

// Sample is one node's state at one poll, as stored in the snapshot CSV.
type Sample struct {
	Timestamp      time.Time
	Mesh           string
	NodeID         string
	Name           string
	Present        bool
	BatteryPercent *int
	SNRDb          *float64
	Tier           SignalTier
	HopsAway       string
	LastHeard      string
}
