package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/medscan/internal/clients"
	"github.com/adverant/nexus/medscan/internal/config"
	"github.com/adverant/nexus/medscan/internal/ner"
	"github.com/adverant/nexus/medscan/internal/preprocess"
	"github.com/adverant/nexus/medscan/internal/processor"
	"github.com/adverant/nexus/medscan/internal/queue"
	"github.com/adverant/nexus/medscan/internal/scanner"
	"github.com/adverant/nexus/medscan/internal/storage"
)

func runLocal(ctx context.Context, cfg *config.Config, cmd *RunCmd) error {
	if cmd.Input != "" {
		cfg.Paths.InputDir = cmd.Input
	}
	if cmd.Workers > 0 {
		cfg.Workers = cmd.Workers
	}
	if cmd.NoDeskew {
		cfg.Preprocess.ApplyDeskew = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	storageManager, err := newStorageManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer storageManager.Close()

	proc, err := newProcessor(ctx, cfg, storageManager)
	if err != nil {
		return err
	}

	report, err := proc.Run(ctx, cfg.Paths.InputDir)
	if err != nil {
		return err
	}

	logger.Info("Run complete",
		"run_id", report.RunID.String(),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"ocr_results", cfg.Paths.OCRResultsFile,
		"entities", cfg.Paths.EntitiesFile,
		"elapsed", report.Elapsed.Round(time.Millisecond))
	for _, o := range report.Outcomes {
		if o.Err != nil {
			logger.Warn("Image not fully processed", "index", o.Ref.Index, "file", o.Ref.Filename, "error_code", o.Err.Code)
		}
	}
	return nil
}

func runEnqueue(ctx context.Context, cfg *config.Config, cmd *EnqueueCmd) error {
	// Workers store into a run registered here.
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if cmd.Input != "" {
		cfg.Paths.InputDir = cmd.Input
	}

	// Workers may run in another directory, so tasks carry absolute paths.
	inputDir, err := filepath.Abs(cfg.Paths.InputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve input directory: %w", err)
	}

	refs, err := scanner.Scan(inputDir)
	if err != nil {
		return err
	}

	storageManager, err := newStorageManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer storageManager.Close()

	runID := uuid.New()
	if err := storageManager.BeginRun(ctx, runID, inputDir, len(refs)); err != nil {
		return err
	}

	enqueuer, err := queue.NewEnqueuer(cfg.Queue.RedisURL, cfg.Queue.QueueName, cfg.Queue.MaxRetry)
	if err != nil {
		return err
	}
	defer enqueuer.Close()

	n, err := enqueuer.EnqueueImages(ctx, runID, refs)
	if err != nil {
		return err
	}
	logger.Info("Enqueue complete", "run_id", runID.String(), "images", len(refs), "enqueued", n, "queue", cfg.Queue.QueueName)
	return nil
}

func runWorker(ctx context.Context, cfg *config.Config, cmd *WorkerCmd) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if cmd.Concurrency > 0 {
		cfg.Queue.Concurrency = cmd.Concurrency
	}
	if cmd.NoDeskew {
		cfg.Preprocess.ApplyDeskew = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("Connecting to storage (PostgreSQL)")
	storageManager, err := newStorageManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer storageManager.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := storageManager.Ping(pingCtx); err != nil {
		return fmt.Errorf("PostgreSQL not reachable: %w", err)
	}
	logger.Info("PostgreSQL connection verified")

	proc, err := newProcessor(ctx, cfg, storageManager)
	if err != nil {
		return err
	}

	logger.Info("Connecting to Redis", "queue", cfg.Queue.QueueName)
	events, err := queue.NewEventPublisher(cfg.Queue.RedisURL, cfg.Queue.QueueName)
	if err != nil {
		return err
	}
	defer events.Close()

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.Queue.RedisURL,
		QueueName:         cfg.Queue.QueueName,
		Concurrency:       cfg.Queue.Concurrency,
		Processor:         proc,
		Store:             storageManager,
		Events:            events,
		ProcessingTimeout: int64(cfg.Queue.ProcessingTimeout),
	})
	if err != nil {
		return err
	}
	if err := consumer.Start(); err != nil {
		return err
	}

	logger.Info("Worker ready, waiting for images",
		"queue", cfg.Queue.QueueName,
		"concurrency", cfg.Queue.Concurrency,
		"deskew", cfg.Preprocess.ApplyDeskew)

	<-ctx.Done()
	logger.Info("Shutdown signal received, initiating graceful shutdown")
	consumer.Stop()

	if stats, err := events.Stats(context.Background()); err == nil {
		logger.Info("Queue status", "processing", stats[queue.EventProcessing], "completed", stats[queue.EventCompleted], "failed", stats[queue.EventFailed])
	}
	logger.Info("Shutdown complete")
	return nil
}

func runReport(ctx context.Context, cfg *config.Config, cmd *ReportCmd) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	storageManager, err := newStorageManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer storageManager.Close()

	runID, n, err := storageManager.RebuildReports(ctx, cmd.Run)
	if err != nil {
		return err
	}
	logger.Info("Reports rebuilt", "run_id", runID.String(), "records", n, "ocr_results", cfg.Paths.OCRResultsFile, "entities", cfg.Paths.EntitiesFile)
	return nil
}

func newStorageManager(ctx context.Context, cfg *config.Config) (*storage.StorageManager, error) {
	reports := storage.NewReportWriter(cfg.Paths.OCRResultsFile, cfg.Paths.EntitiesFile).
		WithManifests(cfg.Paths.NormalOutputDir, cfg.Paths.AdvancedOutputDir)
	return storage.NewStorageManager(ctx, reports, cfg.DatabaseURL)
}

func newProcessor(ctx context.Context, cfg *config.Config, storageManager *storage.StorageManager) (*processor.ScanProcessor, error) {
	engine, err := processor.NewTesseractOCR(&processor.TesseractConfig{
		Language:       cfg.OCR.Language,
		PageSegMode:    cfg.OCR.PageSegMode,
		TessdataPrefix: cfg.OCR.TessdataPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Tesseract: %w", err)
	}

	classifier, err := newClassifier(ctx, cfg.NER)
	if err != nil {
		return nil, err
	}

	return processor.NewScanProcessor(&processor.ProcessorConfig{
		Engine:            engine,
		Classifier:        classifier,
		Preprocessor:      preprocess.NewPreprocessor(cfg.Preprocess),
		NormalOutputDir:   cfg.Paths.NormalOutputDir,
		AdvancedOutputDir: cfg.Paths.AdvancedOutputDir,
		Workers:           cfg.Workers,
		StorageManager:    storageManager,
	})
}

// newClassifier prefers the NER service and falls back to the built-in
// lexicon when no service URL is configured.
func newClassifier(ctx context.Context, cfg config.NERConfig) (ner.Classifier, error) {
	if cfg.URL != "" {
		client := clients.NewNERClient(cfg.URL, cfg.Model, cfg.Timeout)

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.HealthCheck(checkCtx); err != nil {
			logger.Warn("NER service health check failed, classification errors will be recorded per image", "url", cfg.URL, "error", err)
		} else {
			logger.Info("NER service connection verified", "url", cfg.URL, "model", cfg.Model)
		}
		return client, nil
	}

	if cfg.LexiconPath != "" {
		lexicon, err := ner.LoadLexiconClassifier(cfg.LexiconPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load NER lexicon: %w", err)
		}
		logger.Info("Using lexicon classifier", "path", cfg.LexiconPath, "terms", lexicon.Size())
		return lexicon, nil
	}

	lexicon, err := ner.DefaultLexiconClassifier()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in lexicon: %w", err)
	}
	logger.Info("NER_URL not set, using built-in lexicon classifier", "terms", lexicon.Size())
	return lexicon, nil
}
