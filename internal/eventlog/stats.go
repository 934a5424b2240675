package eventlog

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Stats summarizes detections.csv
type Stats struct {
	TotalSessions    int    `json:"total_sessions"`
	TotalDetections  int    `json:"total_detections"`
	PotentialCrashes int    `json:"potential_crashes"`
	LastSession      string `json:"last_session,omitempty"`
}

// ReadStats computes statistics over the detection log in dir. A missing
// log yields zero stats.
func ReadStats(dir string) (Stats, error) {
	var stats Stats

	rows, err := readRows(filepath.Join(dir, DetectionsFile))
	if errors.Is(err, os.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return stats, err
	}

	sessions := make(map[string]struct{})
	for _, row := range rows {
		stats.TotalDetections++
		if strings.EqualFold(row.get("potential_crash"), "YES") {
			stats.PotentialCrashes++
		}
		id := row.get("session_id")
		sessions[id] = struct{}{}
		// ids are timestamps, so lexical order is chronological
		if id > stats.LastSession {
			stats.LastSession = id
		}
	}
	stats.TotalSessions = len(sessions)
	return stats, nil
}

// ExportJSON writes the detection log in dir as a JSON array of objects.
// An empty outPath selects detections_export.json in dir.
func ExportJSON(dir, outPath string) (string, error) {
	rows, err := readRows(filepath.Join(dir, DetectionsFile))
	if err != nil {
		return "", err
	}
	if outPath == "" {
		outPath = filepath.Join(dir, "detections_export.json")
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode export: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return outPath, nil
}

// row is one CSV record keyed by the header. It marshals as a JSON object
// with the keys in column order.
type row struct {
	header []string
	values []string
}

func (r row) get(col string) string {
	for i, c := range r.header {
		if c == col {
			return r.values[i]
		}
	}
	return ""
}

func (r row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.header {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// readRows reads a CSV file into header-keyed records
func readRows(path string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return []row{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	rows := []row{}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		values := make([]string, len(header))
		copy(values, record)
		rows = append(rows, row{header: header, values: values})
	}
	return rows, nil
}
