package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ManifestFile is written into each preprocessed output directory
const ManifestFile = "manifest.json"

// ManifestEntry maps a preprocessed PNG back to its source image
type ManifestEntry struct {
	File      string  `json:"file"`
	Source    string  `json:"source"`
	ImageID   string  `json:"image_id"`
	Index     int     `json:"index"`
	SkewAngle float64 `json:"skew_angle,omitempty"`
	Rotated   bool    `json:"rotated,omitempty"`
}

// NormalManifest maps the normal preprocessed PNGs of records to their sources
func NormalManifest(records []ImageRecord) []ManifestEntry {
	var entries []ManifestEntry
	for _, r := range records {
		if r.NormalFile == "" {
			continue
		}
		entries = append(entries, ManifestEntry{
			File:    r.NormalFile,
			Source:  r.Filename,
			ImageID: r.ImageID.String(),
			Index:   r.Index,
		})
	}
	return entries
}

// AdvancedManifest maps the advanced preprocessed PNGs of records to their
// sources, with the detected skew.
func AdvancedManifest(records []ImageRecord) []ManifestEntry {
	var entries []ManifestEntry
	for _, r := range records {
		if r.AdvancedFile == "" {
			continue
		}
		entries = append(entries, ManifestEntry{
			File:      r.AdvancedFile,
			Source:    r.Filename,
			ImageID:   r.ImageID.String(),
			Index:     r.Index,
			SkewAngle: r.SkewAngle,
			Rotated:   r.Rotated,
		})
	}
	return entries
}

// WriteManifest writes entries, ordered by index, to dir/manifest.json
func WriteManifest(dir string, entries []ManifestEntry) error {
	sorted := append([]ManifestEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads dir/manifest.json
func ReadManifest(dir string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return entries, nil
}
