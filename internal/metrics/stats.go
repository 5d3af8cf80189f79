package metrics

import (
	"math"
	"sort"
	"time"

	"meshmon/internal/model"
)

// Summary is a per-node statistics snapshot over a time window.
type Summary struct {
	Mesh          string
	NodeID        string
	Name          string
	Count         int
	PresentPct    float64
	From          time.Time
	To            time.Time
	AvgBattery    *float64
	MinBattery    *int
	AvgSNRDb      *float64
	MinSNRDb      *float64
	MaxSNRDb      *float64
	P95SNRDb      *float64
	LastPresentAt time.Time
}

type nodeKey struct {
	mesh string
	node string
}

// Summarize computes per-node summaries for samples at or after since,
// sorted by mesh then node id.
func Summarize(items []model.Sample, since time.Time) []Summary {
	groups := map[nodeKey][]model.Sample{}
	for _, s := range items {
		if s.Timestamp.Before(since) {
			continue
		}
		k := nodeKey{mesh: s.Mesh, node: s.NodeID}
		groups[k] = append(groups[k], s)
	}
	if len(groups) == 0 {
		return nil
	}

	keys := make([]nodeKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].mesh != keys[j].mesh {
			return keys[i].mesh < keys[j].mesh
		}
		return keys[i].node < keys[j].node
	})

	out := make([]Summary, 0, len(keys))
	for _, k := range keys {
		out = append(out, summarizeNode(k, groups[k]))
	}
	return out
}

func summarizeNode(k nodeKey, samples []model.Sample) Summary {
	s := Summary{
		Mesh:   k.mesh,
		NodeID: k.node,
		Count:  len(samples),
		From:   samples[0].Timestamp,
		To:     samples[0].Timestamp,
	}

	present := 0
	var batterySum, batteryN int
	minBattery := math.MaxInt
	snrs := make([]float64, 0, len(samples))
	for _, m := range samples {
		if m.Timestamp.Before(s.From) {
			s.From = m.Timestamp
		}
		if m.Timestamp.After(s.To) {
			s.To = m.Timestamp
		}
		if m.Name != "" {
			s.Name = m.Name
		}
		if !m.Present {
			continue
		}
		present++
		if m.Timestamp.After(s.LastPresentAt) {
			s.LastPresentAt = m.Timestamp
		}
		if m.BatteryPercent != nil {
			batterySum += *m.BatteryPercent
			batteryN++
			if *m.BatteryPercent < minBattery {
				minBattery = *m.BatteryPercent
			}
		}
		if m.SNRDb != nil {
			snrs = append(snrs, *m.SNRDb)
		}
	}

	s.PresentPct = round2(float64(present) / float64(len(samples)) * 100)
	if batteryN > 0 {
		avg := round2(float64(batterySum) / float64(batteryN))
		s.AvgBattery = &avg
		s.MinBattery = &minBattery
	}
	if len(snrs) > 0 {
		sort.Float64s(snrs)
		var sum float64
		for _, v := range snrs {
			sum += v
		}
		avg := round2(sum / float64(len(snrs)))
		minSNR, maxSNR := snrs[0], snrs[len(snrs)-1]
		p95 := percentile(snrs, 0.95)
		s.AvgSNRDb = &avg
		s.MinSNRDb = &minSNR
		s.MaxSNRDb = &maxSNR
		s.P95SNRDb = &p95
	}
	return s
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
