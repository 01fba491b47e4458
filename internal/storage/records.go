package storage

import (
	"time"

	"github.com/google/uuid"
)

// Record statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ImageRecord is the persisted outcome for one source image
type ImageRecord struct {
	RunID          uuid.UUID
	ImageID        uuid.UUID
	Index          int
	Filename       string
	Status         string
	NormalText     string
	AdvancedText   string
	MergedText     string
	NormalizedText string
	ChosenVariant  string
	Partial        bool
	SkewAngle      float64
	Rotated        bool
	NormalFile     string // preprocessed PNG name, empty when not written
	AdvancedFile   string
	Chemicals      []string
	Diseases       []string
	ErrorCode      string
	ErrorMessage   string
	UpdatedAt      time.Time
}

// HasText reports whether the record carries a merged OCR result
func (r *ImageRecord) HasText() bool {
	return r.ChosenVariant != ""
}

// Succeeded reports whether every stage completed for the image
func (r *ImageRecord) Succeeded() bool {
	return r.Status == StatusSucceeded
}
