/**
 * Report Writer
 *
 * Writes the two plain-text result files:
 *   ocr_results.txt          - merged OCR text per image
 *   classified_entities.txt  - chemicals and diseases per image
 *
 * Images are numbered by their sequence index, which is also the number in the
 * preprocessed PNG file names. When manifest directories are set, each gets a
 * manifest.json built from the same records.
 */

package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Separator closes every block in the report files
var Separator = strings.Repeat("=", 50)

// ReportWriter writes result files to fixed paths
type ReportWriter struct {
	OCRResultsPath string
	EntitiesPath   string

	NormalManifestDir   string
	AdvancedManifestDir string
}

// NewReportWriter creates a report writer
func NewReportWriter(ocrResultsPath, entitiesPath string) *ReportWriter {
	return &ReportWriter{
		OCRResultsPath: ocrResultsPath,
		EntitiesPath:   entitiesPath,
	}
}

// WithManifests sets the preprocessed output directories that receive a
// manifest.json on every Write
func (w *ReportWriter) WithManifests(normalDir, advancedDir string) *ReportWriter {
	w.NormalManifestDir = normalDir
	w.AdvancedManifestDir = advancedDir
	return w
}

// Write replaces both report files with the given records. Records are
// written in sequence order; records without merged text are left out of
// the OCR report and failed records are left out of the entity report.
func (w *ReportWriter) Write(records []ImageRecord) error {
	sorted := append([]ImageRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	if err := writeFile(w.OCRResultsPath, func(out *bufio.Writer) error {
		for _, r := range sorted {
			if !r.HasText() {
				continue
			}
			if _, err := fmt.Fprintf(out, "Image %d:\n%s\n%s\n", r.Index, r.MergedText, Separator); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to write OCR results: %w", err)
	}

	if err := writeFile(w.EntitiesPath, func(out *bufio.Writer) error {
		for _, r := range sorted {
			if !r.Succeeded() {
				continue
			}
			if _, err := fmt.Fprintf(out, "Image %d:\nChemicals: %s\nDiseases: %s\n%s\n",
				r.Index, strings.Join(r.Chemicals, ", "), strings.Join(r.Diseases, ", "), Separator); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to write classified entities: %w", err)
	}

	if w.NormalManifestDir != "" {
		if err := WriteManifest(w.NormalManifestDir, NormalManifest(sorted)); err != nil {
			return err
		}
	}
	if w.AdvancedManifestDir != "" {
		if err := WriteManifest(w.AdvancedManifestDir, AdvancedManifest(sorted)); err != nil {
			return err
		}
	}

	return nil
}

func writeFile(path string, fill func(*bufio.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	out := bufio.NewWriter(f)
	if err := fill(out); err != nil {
		return err
	}
	if err := out.Flush(); err != nil {
		return err
	}
	return f.Close()
}
