package health

import (
	"math"
	"strconv"
	"strings"

	"meshmon/internal/model"
)

// Field names as printed by the mesh CLI.
const (
	FieldBattery   = "Battery"
	FieldSNR       = "SNR"
	FieldHopsAway  = "Hops Away"
	FieldLastHeard = "LastHeard"
	FieldUser      = "User"
)

// Classify derives typed health facts from one node's raw fields.
// An empty field map means the node was not found this cycle.
func Classify(nodeID string, fields map[string]string) model.HealthFact {
	fact := model.HealthFact{
		NodeID:  nodeID,
		Present: len(fields) > 0,
	}
	if !fact.Present {
		return fact
	}
	fact.BatteryPercent = ParseBattery(fields[FieldBattery])
	fact.SNRDb = ParseSNR(fields[FieldSNR])
	fact.HopsAway = fields[FieldHopsAway]
	fact.LastHeard = fields[FieldLastHeard]
	fact.DisplayName = fields[FieldUser]
	return fact
}

// ParseBattery reads values like "87%". Returns nil unless the value holds
// a "%" and an integer in [0,100].
func ParseBattery(raw string) *int {
	if !strings.Contains(raw, "%") {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.ReplaceAll(raw, "%", "")))
	if err != nil || n < 0 || n > 100 {
		return nil
	}
	return &n
}

// ParseSNR reads values like "-12.3dB" or "6.25 dB".
func ParseSNR(raw string) *float64 {
	if !strings.Contains(raw, "dB") {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(raw, "dB", "")), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Tier grades an SNR reading for display. It is unrelated to the
// weak-signal alert threshold.
func Tier(snr *float64) model.SignalTier {
	switch {
	case snr == nil:
		return model.TierUnknown
	case *snr > 5:
		return model.TierGood
	case *snr > 0:
		return model.TierModerate
	default:
		return model.TierPoor
	}
}

// Status pairs a fact with its display tier.
func Status(fact model.HealthFact) model.NodeStatus {
	return model.NodeStatus{Fact: fact, Tier: Tier(fact.SNRDb)}
}
