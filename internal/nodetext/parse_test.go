package nodetext

import (
	"math/rand"
	"strings"
	"testing"
)

const sampleOutput = "" +
	"!6984a7c8\n" +
	"  User: Base Station\n" +
	"  Battery: 87%\n" +
	"  SNR: 6.25dB\n" +
	"  Hops Away: 0\n" +
	"  LastHeard: 2024-05-01 10:00:00\n" +
	"!b2a70de4\n" +
	"  User: Hilltop Relay\n" +
	"  Battery: 15%\n" +
	"  SNR: -12.3dB\n" +
	"!abc123\n" +
	"  User: Solar Node\n"

func TestParse_CountsHeaders(t *testing.T) {
	t.Parallel()

	nodes := Parse(sampleOutput)
	if len(nodes) != 3 {
		t.Fatalf("nodes=%d", len(nodes))
	}
	for _, id := range []string{"!6984a7c8", "!b2a70de4", "!abc123"} {
		if _, ok := nodes[id]; !ok {
			t.Fatalf("missing %s in %v", id, nodes)
		}
	}
	if got := nodes["!b2a70de4"]["SNR"]; got != "-12.3dB" {
		t.Fatalf("snr=%q", got)
	}
	if got := nodes["!6984a7c8"]["Hops Away"]; got != "0" {
		t.Fatalf("hops=%q", got)
	}
}

func TestParse_SplitsOnFirstColonOnly(t *testing.T) {
	t.Parallel()

	nodes := Parse("!a1\n  LastHeard: 2024-05-01 10:00:00\n")
	if got := nodes["!a1"]["LastHeard"]; got != "2024-05-01 10:00:00" {
		t.Fatalf("last_heard=%q", got)
	}
}

func TestParse_LastFieldWins(t *testing.T) {
	t.Parallel()

	nodes := Parse("!a1\n  Battery: 50%\n  Battery: 40%\n")
	if got := nodes["!a1"]["Battery"]; got != "40%" {
		t.Fatalf("battery=%q", got)
	}
}

func TestParse_DropsAnomalies(t *testing.T) {
	t.Parallel()

	text := "" +
		"  Orphan: before any header\n" +
		"Connected to radio\n" +
		"!a1\n" +
		"  no separator here\n" +
		"Battery: 12%\n" +
		"\n" +
		"\t SNR: 1.5dB\r\n" +
		"  : empty key\n"
	nodes := Parse(text)
	if len(nodes) != 1 {
		t.Fatalf("nodes=%v", nodes)
	}
	fields := nodes["!a1"]
	if len(fields) != 1 {
		t.Fatalf("fields=%v", fields)
	}
	if fields["SNR"] != "1.5dB" {
		t.Fatalf("snr=%q", fields["SNR"])
	}
}

func TestParse_IndentedBangIsNotHeader(t *testing.T) {
	t.Parallel()

	nodes := Parse("!a1\n  !b2\n  Role: ROUTER\n")
	if len(nodes) != 1 {
		t.Fatalf("nodes=%v", nodes)
	}
	if nodes["!a1"]["Role"] != "ROUTER" {
		t.Fatalf("fields=%v", nodes["!a1"])
	}
}

func TestParse_EmptyInput(t *testing.T) {
	t.Parallel()

	if nodes := Parse(""); len(nodes) != 0 {
		t.Fatalf("nodes=%v", nodes)
	}
}

func TestParse_RandomInputNeverPanics(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	alphabet := []byte("!: \t\r\nabcXYZ019%dB\x00\x07\xff")
	for i := 0; i < 500; i++ {
		buf := make([]byte, rng.Intn(256))
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		_ = Parse(string(buf))
		_ = ParseSingleNode(string(buf), "!a")
		_ = NodeIDs(string(buf))
	}
}

func TestParseSingleNode_ReturnsOnlyTargetBlock(t *testing.T) {
	t.Parallel()

	fields := ParseSingleNode(sampleOutput, "!b2a70de4")
	if len(fields) != 3 {
		t.Fatalf("fields=%v", fields)
	}
	if fields["Battery"] != "15%" || fields["User"] != "Hilltop Relay" {
		t.Fatalf("fields=%v", fields)
	}
	if _, ok := fields["Hops Away"]; ok {
		t.Fatalf("leaked field from previous node: %v", fields)
	}
}

func TestParseSingleNode_LastBlockRunsToEOF(t *testing.T) {
	t.Parallel()

	fields := ParseSingleNode(sampleOutput, "!abc123")
	if len(fields) != 1 || fields["User"] != "Solar Node" {
		t.Fatalf("fields=%v", fields)
	}
}

func TestParseSingleNode_MissingTarget(t *testing.T) {
	t.Parallel()

	fields := ParseSingleNode(sampleOutput, "!deadbeef")
	if fields == nil {
		t.Fatalf("expected empty map, got nil")
	}
	if len(fields) != 0 {
		t.Fatalf("fields=%v", fields)
	}
}

func TestNodeIDs_PreservesOrder(t *testing.T) {
	t.Parallel()

	ids := NodeIDs(sampleOutput + "!6984a7c8\n")
	if strings.Join(ids, ",") != "!6984a7c8,!b2a70de4,!abc123" {
		t.Fatalf("ids=%v", ids)
	}
}

func TestRecords_OrderAndReopenedHeader(t *testing.T) {
	t.Parallel()

	recs := Records(sampleOutput + "!6984a7c8\n  Battery: 80%\n")
	if len(recs) != 3 {
		t.Fatalf("records=%+v", recs)
	}
	if recs[0].ID != "!6984a7c8" || recs[2].ID != "!abc123" {
		t.Fatalf("order=%s,%s", recs[0].ID, recs[2].ID)
	}
	base := recs[0].Fields
	if base["Battery"] != "80%" || base["User"] != "Base Station" {
		t.Fatalf("reopened header must keep earlier fields and overwrite later ones: %v", base)
	}
	if len(Records("")) != 0 {
		t.Fatalf("expected no records for empty input")
	}
}

func FuzzParse(f *testing.F) {
	f.Add(sampleOutput)
	f.Add("!a\n  k: v\n  broken\n\x00\n")
	f.Add("  x: y\n!\n")
	f.Fuzz(func(t *testing.T, text string) {
		nodes := Parse(text)
		for id := range nodes {
			if !strings.HasPrefix(id, "!") {
				t.Fatalf("header without bang: %q", id)
			}
		}
		_ = ParseSingleNode(text, "!a")
	})
}
