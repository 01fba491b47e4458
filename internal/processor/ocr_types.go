/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Common types used by the Tesseract runner, the merger and the pipeline
 */

package processor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/medscan/internal/preprocess"
)

// OCREngine extracts text from an image file on disk
type OCREngine interface {
	Recognize(ctx context.Context, imagePath string) (*OCRResult, error)
}

// OCRResult represents the text extracted from one preprocessed image
type OCRResult struct {
	ImageID    uuid.UUID
	Variant    preprocess.Variant
	Text       string
	Confidence float64 // mean word confidence in [0,1]
	Words      []OCRWord
	SourcePath string
	Duration   time.Duration
}

// OCRWord represents a single word with bounding box
type OCRWord struct {
	Text        string
	Confidence  float64
	BoundingBox BoundingBox
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}
