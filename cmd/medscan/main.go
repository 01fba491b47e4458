/**
 * medscan - Main Entry Point
 *
 * OCR and biomedical entity tagging for scanned documents.
 *
 * Pipeline per image:
 * 1. Load and convert to grayscale
 * 2. Normal (median + fixed threshold) and advanced (adaptive threshold +
 *    denoise + deskew) preprocessing
 * 3. Tesseract OCR over both variants, richer text kept
 * 4. Normalize and tag CHEMICAL / DISEASE entities
 *
 * Subcommands:
 * - run      process a directory locally and write the report files
 * - enqueue  submit one queue task per image
 * - worker   consume queue tasks into PostgreSQL
 * - report   rebuild the report files and manifests of a run from PostgreSQL
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/adverant/nexus/medscan/internal/config"
	"github.com/adverant/nexus/medscan/internal/logging"
)

type RunCmd struct {
	Input    string `arg:"-i,--input" help:"input directory (default INPUT_DIR)"`
	NoDeskew bool   `arg:"--no-deskew" help:"skip skew correction in the advanced pipeline"`
	Workers  int    `arg:"-w,--workers" help:"images processed concurrently (default WORKERS)"`
}

type EnqueueCmd struct {
	Input string `arg:"-i,--input" help:"input directory (default INPUT_DIR)"`
}

type WorkerCmd struct {
	Concurrency int  `arg:"-c,--concurrency" help:"tasks processed concurrently (default WORKER_CONCURRENCY)"`
	NoDeskew    bool `arg:"--no-deskew" help:"skip skew correction in the advanced pipeline"`
}

type ReportCmd struct {
	Run uuid.UUID `arg:"--run" help:"run ID to rebuild (default: most recent run)"`
}

var args struct {
	Run     *RunCmd     `arg:"subcommand:run" help:"process the input directory locally"`
	Enqueue *EnqueueCmd `arg:"subcommand:enqueue" help:"enqueue one task per image"`
	Worker  *WorkerCmd  `arg:"subcommand:worker" help:"process queued images"`
	Report  *ReportCmd  `arg:"subcommand:report" help:"rebuild report files from the result store"`
	Env     string      `arg:"--env" default:".env" help:"environment file loaded when present"`
}

var logger = logging.NewLogger("medscan")

func main() {
	p := arg.MustParse(&args)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand: run, enqueue, worker or report")
	}

	if err := godotenv.Load(args.Env); err != nil {
		logger.Debug("Environment file not loaded, using system environment variables", "file", args.Env)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		fatal("Invalid log level", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case args.Run != nil:
		err = runLocal(ctx, cfg, args.Run)
	case args.Enqueue != nil:
		err = runEnqueue(ctx, cfg, args.Enqueue)
	case args.Worker != nil:
		err = runWorker(ctx, cfg, args.Worker)
	case args.Report != nil:
		err = runReport(ctx, cfg, args.Report)
	default:
		err = fmt.Errorf("unknown subcommand")
	}

	if err != nil {
		stop()
		fatal("medscan failed", err)
	}
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
