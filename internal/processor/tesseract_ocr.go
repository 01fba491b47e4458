/**
 * Tesseract OCR
 *
 * Offline OCR over preprocessed page images using Tesseract with a fixed
 * configuration: English, LSTM engine, page segmentation mode 6 (one uniform
 * block of text).
 */

package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/medscan/internal/logging"
)

// TesseractOCR handles OCR using Tesseract
type TesseractOCR struct {
	config *TesseractConfig
	logger *logging.Logger
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language       string
	PageSegMode    int
	TessdataPrefix string
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.PageSegMode < 0 || cfg.PageSegMode > int(gosseract.PSM_RAW_LINE) {
		return nil, fmt.Errorf("invalid page segmentation mode %d", cfg.PageSegMode)
	}

	return &TesseractOCR{
		config: cfg,
		logger: logging.NewLogger("tesseract"),
	}, nil
}

// Recognize performs OCR on the image file at imagePath
func (t *TesseractOCR) Recognize(ctx context.Context, imagePath string) (*OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()

	client := gosseract.NewClient()
	defer client.Close()

	if t.config.TessdataPrefix != "" {
		client.SetTessdataPrefix(t.config.TessdataPrefix)
	}
	if err := client.SetLanguage(t.config.Language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(t.config.PageSegMode)); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImage(imagePath); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	words, confidence := extractWords(client)
	t.logger.Debug("OCR complete", "path", imagePath, "words", len(words), "confidence", confidence)

	return &OCRResult{
		Text:       text,
		Confidence: confidence,
		Words:      words,
		SourcePath: imagePath,
		Duration:   time.Since(startTime),
	}, nil
}

// TextOrEmpty runs OCR and treats any failure as "no text found". The returned
// result is never nil; a non-nil error only reports why the text is empty, so
// a batch never aborts on one image.
func TextOrEmpty(ctx context.Context, engine OCREngine, imagePath string, logger *logging.Logger) (*OCRResult, error) {
	result, err := engine.Recognize(ctx, imagePath)
	if err != nil {
		logger.Warn("OCR failed, treating as empty text", "path", imagePath, "error", err)
		return &OCRResult{SourcePath: imagePath}, err
	}
	if result == nil {
		return &OCRResult{SourcePath: imagePath}, nil
	}
	return result, nil
}

// extractWords reads word boxes from the last recognition. Confidence is the
// mean word confidence scaled to [0,1].
func extractWords(client *gosseract.Client) ([]OCRWord, float64) {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}

	words := make([]OCRWord, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		words = append(words, OCRWord{
			Text:       b.Word,
			Confidence: conf,
			BoundingBox: BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}
	return words, sum / float64(len(words))
}
