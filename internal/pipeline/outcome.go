// Package pipeline orchestrates the per-date download workflow: catalog
// query, scene filtering, pixel quality evaluation, mosaicking and output
// writing, with one aggregated outcome per date.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ItemRef names one catalog item that contributed to a date's outcome.
type ItemRef struct {
	ID string `json:"id"`
}

// SceneOutcome is the bookkeeping record of one date's pipeline run. The
// pixel fields are percentages of the AOI window.
type SceneOutcome struct {
	ItemIDs       []ItemRef `json:"item_ids"`
	NonzeroPixels float64   `json:"nonzero_pixels"`
	ValidPixels   float64   `json:"valid_pixels"`
	DataAvailable bool      `json:"data_available"`
	ErrorInfo     string    `json:"error_info"`
}

// Summary maps acquisition dates (YYYYMMDD) to their outcomes.
type Summary map[string]SceneOutcome

// SummaryPath returns the summary file location for a date range.
func SummaryPath(dir string, start, end time.Time) string {
	name := fmt.Sprintf("scenes_info_%s_%s.json",
		start.UTC().Format("2006-01-02"), end.UTC().Format("2006-01-02"))
	return filepath.Join(dir, name)
}

// WriteSummary persists the summary as indented JSON. The write goes through
// a temporary file and a rename so an interrupted run never leaves a
// truncated summary behind. Map keys marshal in sorted order, so the same
// outcomes always produce the same bytes.
func WriteSummary(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create summary directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".scenes_info_*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary summary file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close summary file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move summary into place: %w", err)
	}
	return nil
}

// rejected builds a terminal outcome carrying a rejection reason.
func rejected(items []ItemRef, nonzero, valid float64, reason string) SceneOutcome {
	return SceneOutcome{
		ItemIDs:       items,
		NonzeroPixels: nonzero,
		ValidPixels:   valid,
		DataAvailable: false,
		ErrorInfo:     reason,
	}
}
