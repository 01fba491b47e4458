/**
 * Scan Processor for medscan
 *
 * Orchestrates the per-image pipeline:
 * - load and convert to grayscale
 * - normal and advanced preprocessing, each saved as a PNG
 * - Tesseract OCR over both preprocessed images
 * - merge by word count, normalize, classify chemicals and diseases
 *
 * A failure in one image is recorded in its outcome and never stops the batch.
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/adverant/nexus/medscan/internal/errors"
	"github.com/adverant/nexus/medscan/internal/logging"
	"github.com/adverant/nexus/medscan/internal/ner"
	"github.com/adverant/nexus/medscan/internal/preprocess"
	"github.com/adverant/nexus/medscan/internal/scanner"
	"github.com/adverant/nexus/medscan/internal/storage"
	"github.com/adverant/nexus/medscan/internal/textnorm"
)

// ImageProcessor processes a single source image
type ImageProcessor interface {
	ProcessImage(ctx context.Context, ref scanner.ImageRef) *ImageOutcome
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine            OCREngine
	Classifier        ner.Classifier
	Preprocessor      *preprocess.Preprocessor
	NormalOutputDir   string
	AdvancedOutputDir string
	Workers           int
	StorageManager    *storage.StorageManager
}

// ScanProcessor runs the OCR and classification pipeline
type ScanProcessor struct {
	config  *ProcessorConfig
	storage *storage.StorageManager
	logger  *logging.Logger
}

// NewScanProcessor creates a new scan processor
func NewScanProcessor(cfg *ProcessorConfig) (*ScanProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("OCR engine is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("entity classifier is required")
	}
	if cfg.Preprocessor == nil {
		return nil, fmt.Errorf("preprocessor is required")
	}
	if cfg.StorageManager == nil {
		return nil, fmt.Errorf("storage manager is required")
	}
	if cfg.NormalOutputDir == "" || cfg.AdvancedOutputDir == "" {
		return nil, fmt.Errorf("output directories are required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &ScanProcessor{
		config:  cfg,
		storage: cfg.StorageManager,
		logger:  logging.NewLogger("processor"),
	}, nil
}

// Run processes every image in inputDir under a new run ID and writes
// manifests, reports and (when configured) database records. Only a missing
// input directory or a storage failure is returned as an error; per-image
// failures are reported in the outcomes.
func (p *ScanProcessor) Run(ctx context.Context, inputDir string) (*RunReport, error) {
	startTime := time.Now()

	refs, err := scanner.Scan(inputDir)
	if err != nil {
		return nil, err
	}
	runID := uuid.New()
	if err := p.storage.BeginRun(ctx, runID, inputDir, len(refs)); err != nil {
		return nil, apperrors.NewStorageFailedError("", err)
	}
	p.logger.Info("Starting batch", "run_id", runID.String(), "input_dir", inputDir, "images", len(refs), "workers", p.config.Workers)

	// Outcomes are stored by position so output order never depends on scheduling.
	outcomes := make([]*ImageOutcome, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for i, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o := p.ProcessImage(gctx, ref)
			o.RunID = runID
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()

	report := &RunReport{RunID: runID}
	for _, o := range outcomes {
		if o == nil {
			continue // not started before cancellation
		}
		report.Outcomes = append(report.Outcomes, o)
		if o.Succeeded() {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	if err := p.storage.SaveRecords(ctx, report.Records()); err != nil {
		return report, apperrors.NewStorageFailedError("", err)
	}

	report.Elapsed = time.Since(startTime)
	p.logger.Info("Batch complete",
		"run_id", runID.String(),
		"images", len(refs),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"elapsed", report.Elapsed.Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("batch interrupted: %w", err)
	}
	return report, nil
}

// ProcessImage runs the full pipeline for one image. It always returns an
// outcome; a failed stage sets Err and leaves later stages empty.
func (p *ScanProcessor) ProcessImage(ctx context.Context, ref scanner.ImageRef) *ImageOutcome {
	startTime := time.Now()
	log := p.logger.With("image_id", ref.ID.String(), "index", ref.Index, "file", ref.Filename)

	outcome := &ImageOutcome{
		Ref:      ref,
		Status:   StatusFailed,
		Variants: make(map[preprocess.Variant]*VariantOutcome, len(preprocess.Variants)),
	}
	defer func() { outcome.Duration = time.Since(startTime) }()

	if err := ctx.Err(); err != nil {
		outcome.Err = apperrors.NewProcessingTimeoutError(ref.ID.String(), 0, err)
		return outcome
	}

	mat, err := scanner.Load(ref)
	if err != nil {
		outcome.Err = asProcessingError(err, func(cause error) *apperrors.ProcessingError {
			return apperrors.NewLoadFailedError(ref.ID.String(), ref.Path, cause)
		})
		log.Error("Failed to load image, skipping", "error", err)
		return outcome
	}
	defer mat.Close()

	normal := make(map[uuid.UUID]*OCRResult, 1)
	advanced := make(map[uuid.UUID]*OCRResult, 1)
	var firstErr *apperrors.ProcessingError
	for _, variant := range preprocess.Variants {
		vo := p.runVariant(ctx, mat, ref, variant, log)
		outcome.Variants[variant] = vo
		switch {
		case vo.OCR == nil:
			if firstErr == nil {
				firstErr = vo.Err
			}
		case variant == preprocess.VariantAdvanced:
			advanced[ref.ID] = vo.OCR
		default:
			normal[ref.ID] = vo.OCR
		}
	}

	results := MergeByID([]scanner.ImageRef{ref}, normal, advanced)
	if len(results) == 0 {
		outcome.Err = firstErr
		log.Error("No preprocessing variant succeeded, skipping", "error", firstErr)
		return outcome
	}
	merged := results[0]
	outcome.Merged = &merged
	outcome.Normalized = textnorm.PostProcess(merged.Text)

	entities, err := p.config.Classifier.Classify(ctx, outcome.Normalized)
	if err != nil {
		outcome.Err = apperrors.NewClassifyFailedError(ref.ID.String(), err)
		log.Error("Entity classification failed", "error", err)
		return outcome
	}
	outcome.Entities = entities
	outcome.Status = StatusSucceeded

	log.Info("Image processed",
		"chosen", merged.Chosen,
		"partial", merged.Partial,
		"normal_words", merged.NormalWords,
		"advanced_words", merged.AdvancedWords,
		"chemicals", entities.Chemicals,
		"diseases", entities.Diseases)
	return outcome
}

// runVariant preprocesses, saves and recognizes one variant. An OCR failure
// still yields an (empty) OCR result; only preprocessing and save failures
// leave OCR nil.
func (p *ScanProcessor) runVariant(ctx context.Context, mat gocv.Mat, ref scanner.ImageRef, variant preprocess.Variant, log *logging.Logger) *VariantOutcome {
	vo := &VariantOutcome{Variant: variant}

	res, err := p.config.Preprocessor.Apply(mat, variant)
	if err != nil {
		vo.Err = apperrors.NewPreprocessFailedError(ref.ID.String(), string(variant), err)
		log.Warn("Preprocessing failed", "variant", variant, "error", err)
		return vo
	}
	defer res.Mat.Close()
	vo.SkewAngle = res.SkewAngle
	vo.Rotated = res.Rotated

	path, err := preprocess.Save(res.Mat, p.outputDir(variant), variant, ref.Index)
	if err != nil {
		vo.Err = apperrors.NewPreprocessFailedError(ref.ID.String(), string(variant), err)
		log.Warn("Failed to save preprocessed image", "variant", variant, "error", err)
		return vo
	}
	vo.OutputPath = path

	ocr, err := TextOrEmpty(ctx, p.config.Engine, path, log)
	if err != nil {
		vo.Err = apperrors.NewOCRFailedError(ref.ID.String(), string(variant), err)
	}
	ocr.ImageID = ref.ID
	ocr.Variant = variant
	vo.OCR = ocr

	log.Debug("Variant complete", "variant", variant, "path", path, "skew_angle", res.SkewAngle, "rotated", res.Rotated)
	return vo
}

func (p *ScanProcessor) outputDir(variant preprocess.Variant) string {
	if variant == preprocess.VariantAdvanced {
		return p.config.AdvancedOutputDir
	}
	return p.config.NormalOutputDir
}

func asProcessingError(err error, wrap func(error) *apperrors.ProcessingError) *apperrors.ProcessingError {
	var perr *apperrors.ProcessingError
	if errors.As(err, &perr) {
		return perr
	}
	return wrap(err)
}
