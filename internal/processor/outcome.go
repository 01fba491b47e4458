package processor

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/medscan/internal/errors"
	"github.com/adverant/nexus/medscan/internal/ner"
	"github.com/adverant/nexus/medscan/internal/preprocess"
	"github.com/adverant/nexus/medscan/internal/scanner"
	"github.com/adverant/nexus/medscan/internal/storage"
)

// Outcome statuses
const (
	StatusSucceeded = storage.StatusSucceeded
	StatusFailed    = storage.StatusFailed
)

// VariantOutcome is what one preprocessing pipeline produced for an image
type VariantOutcome struct {
	Variant    preprocess.Variant
	OutputPath string
	SkewAngle  float64
	Rotated    bool
	OCR        *OCRResult
	Err        *apperrors.ProcessingError
}

// ImageOutcome is the result of processing one source image. Failed outcomes
// keep whatever stages completed before the failure.
type ImageOutcome struct {
	RunID      uuid.UUID
	Ref        scanner.ImageRef
	Status     string
	Variants   map[preprocess.Variant]*VariantOutcome
	Merged     *MergedResult
	Normalized string
	Entities   *ner.Entities
	Err        *apperrors.ProcessingError
	Duration   time.Duration
}

// Succeeded reports whether every stage completed
func (o *ImageOutcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// ToRecord converts the outcome into its persisted form
func (o *ImageOutcome) ToRecord() storage.ImageRecord {
	r := storage.ImageRecord{
		RunID:          o.RunID,
		ImageID:        o.Ref.ID,
		Index:          o.Ref.Index,
		Filename:       o.Ref.Filename,
		Status:         o.Status,
		NormalizedText: o.Normalized,
		UpdatedAt:      time.Now(),
	}

	if v := o.Variants[preprocess.VariantNormal]; v != nil {
		r.NormalFile = outputName(v)
		if v.OCR != nil {
			r.NormalText = v.OCR.Text
		}
	}
	if v := o.Variants[preprocess.VariantAdvanced]; v != nil {
		r.AdvancedFile = outputName(v)
		r.SkewAngle = v.SkewAngle
		r.Rotated = v.Rotated
		if v.OCR != nil {
			r.AdvancedText = v.OCR.Text
		}
	}
	if o.Merged != nil {
		r.MergedText = o.Merged.Text
		r.ChosenVariant = string(o.Merged.Chosen)
		r.Partial = o.Merged.Partial
	}
	if o.Entities != nil {
		r.Chemicals = o.Entities.Chemicals
		r.Diseases = o.Entities.Diseases
	}
	if o.Err != nil {
		r.ErrorCode = string(o.Err.Code)
		r.ErrorMessage = o.Err.Error()
	}
	return r
}

func outputName(v *VariantOutcome) string {
	if v.OutputPath == "" {
		return ""
	}
	return filepath.Base(v.OutputPath)
}

// RunReport summarizes a batch run
type RunReport struct {
	RunID     uuid.UUID
	Outcomes  []*ImageOutcome // in sequence order
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// Records converts every outcome into its persisted form
func (r *RunReport) Records() []storage.ImageRecord {
	records := make([]storage.ImageRecord, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		records = append(records, o.ToRecord())
	}
	return records
}
