package cardinality

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// FileVersion is the calibration file format version.
const FileVersion = 1

// File is the persisted calibration snapshot.
type File struct {
	Version     int                    `json:"version"`
	GeneratedAt time.Time              `json:"generated_at"`
	Edges       map[string]Measurement `json:"edges"`
}

// Measurement is one calibrated edge as stored on disk, keyed "ParentType.field".
type Measurement struct {
	Count      float64   `json:"count"`
	Confidence float64   `json:"confidence"`
	MeasuredAt time.Time `json:"measured_at"`
}

// Export writes the calibrated overrides of m as JSON.
func Export(w io.Writer, m *Model, generatedAt time.Time) error {
	f := File{Version: FileVersion, GeneratedAt: generatedAt.UTC(), Edges: map[string]Measurement{}}
	for _, e := range m.Overrides() {
		if !e.Calibrated {
			continue
		}
		f.Edges[e.Key.String()] = Measurement{Count: e.Count, Confidence: e.Confidence, MeasuredAt: e.MeasuredAt.UTC()}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	return nil
}

// Import decodes a calibration file into calibrated entries.
func Import(r io.Reader) ([]Entry, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode calibration: %w", err)
	}
	if f.Version != FileVersion {
		return nil, fmt.Errorf("unsupported calibration file version %d", f.Version)
	}
	entries := make([]Entry, 0, len(f.Edges))
	for name, m := range f.Edges {
		k, err := ParseKey(name)
		if err != nil {
			return nil, err
		}
		if m.Count < 0 {
			return nil, fmt.Errorf("edge %s: negative count %v", name, m.Count)
		}
		entries = append(entries, Entry{
			Key:        k,
			Count:      m.Count,
			Confidence: m.Confidence,
			MeasuredAt: m.MeasuredAt,
			Calibrated: true,
		})
	}
	return entries, nil
}

// ExportFile writes the calibration snapshot of m to path.
func ExportFile(path string, m *Model, generatedAt time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create calibration file: %w", err)
	}
	if err := Export(f, m, generatedAt); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ImportFile reads a calibration snapshot from path.
func ImportFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calibration file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Import(f)
}

// ParseKey parses "ParentType.field".
func ParseKey(s string) (Key, error) {
	parent, field, ok := strings.Cut(s, ".")
	if !ok || parent == "" || field == "" {
		return Key{}, fmt.Errorf("invalid edge key %q, want ParentType.field", s)
	}
	return Key{ParentType: parent, Field: field}, nil
}
