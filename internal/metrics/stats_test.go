package metrics

import (
	"testing"
	"time"

	"meshmon/internal/model"
)

func ptrInt(v int) *int { return &v }

func ptrFloat(v float64) *float64 { return &v }

func TestSummarize_PerNode(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	items := []model.Sample{
		{Timestamp: now.Add(-2 * time.Hour), NodeID: "!a1", Present: true, BatteryPercent: ptrInt(5)},
		{Timestamp: now.Add(-30 * time.Second), NodeID: "!a1", Name: "Alpha", Present: true, BatteryPercent: ptrInt(40), SNRDb: ptrFloat(4)},
		{Timestamp: now.Add(-20 * time.Second), NodeID: "!a1", Present: true, BatteryPercent: ptrInt(20), SNRDb: ptrFloat(-2)},
		{Timestamp: now.Add(-10 * time.Second), NodeID: "!a1", Present: false},
		{Timestamp: now.Add(-10 * time.Second), NodeID: "!b2", Present: true},
	}
	out := Summarize(items, now.Add(-time.Minute))
	if len(out) != 2 {
		t.Fatalf("summaries=%d", len(out))
	}
	a := out[0]
	if a.NodeID != "!a1" || a.Count != 3 || a.Name != "Alpha" {
		t.Fatalf("a=%+v", a)
	}
	if a.PresentPct != 66.67 {
		t.Fatalf("present=%.2f", a.PresentPct)
	}
	if a.AvgBattery == nil || *a.AvgBattery != 30 || *a.MinBattery != 20 {
		t.Fatalf("battery=%v/%v", a.AvgBattery, a.MinBattery)
	}
	if *a.MinSNRDb != -2 || *a.MaxSNRDb != 4 || *a.AvgSNRDb != 1 || *a.P95SNRDb != 4 {
		t.Fatalf("snr min=%v max=%v avg=%v p95=%v", *a.MinSNRDb, *a.MaxSNRDb, *a.AvgSNRDb, *a.P95SNRDb)
	}
	b := out[1]
	if b.AvgBattery != nil || b.AvgSNRDb != nil || b.PresentPct != 100 {
		t.Fatalf("b=%+v", b)
	}
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	if out := Summarize(nil, time.Now()); out != nil {
		t.Fatalf("out=%v", out)
	}
}

func TestPercentile_Edges(t *testing.T) {
	t.Parallel()

	values := []float64{1, 2, 3, 4}
	if got := percentile(values, 0); got != 1 {
		t.Fatalf("p0=%v", got)
	}
	if got := percentile(values, 1); got != 4 {
		t.Fatalf("p100=%v", got)
	}
}
