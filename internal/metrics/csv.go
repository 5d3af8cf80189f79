package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"meshmon/internal/model"
)

var header = []string{
	"timestamp",
	"mesh",
	"node_id",
	"name",
	"present",
	"battery_pct",
	"snr_db",
	"tier",
	"hops",
	"last_heard",
}

// FromStatus flattens one cycle row into a Sample.
func FromStatus(mesh string, at time.Time, st model.NodeStatus) model.Sample {
	return model.Sample{
		Timestamp:      at,
		Mesh:           mesh,
		NodeID:         st.Fact.NodeID,
		Name:           st.Fact.DisplayName,
		Present:        st.Fact.Present,
		BatteryPercent: st.Fact.BatteryPercent,
		SNRDb:          st.Fact.SNRDb,
		Tier:           st.Tier,
		HopsAway:       st.Fact.HopsAway,
		LastHeard:      st.Fact.LastHeard,
	}
}

// WriteCSV writes samples to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.Sample) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	return writeRecords(writer, items)
}

// AppendCSV appends samples to path, writing the header only when the file is new.
func AppendCSV(path string, items []model.Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	info, statErr := os.Stat(path)
	needHeader := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if needHeader {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	return writeRecords(writer, items)
}

func writeRecords(writer *csv.Writer, items []model.Sample) error {
	for _, s := range items {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.Mesh,
			s.NodeID,
			s.Name,
			strconv.FormatBool(s.Present),
			formatInt(s.BatteryPercent),
			formatFloat(s.SNRDb),
			string(s.Tier),
			s.HopsAway,
			s.LastHeard,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
