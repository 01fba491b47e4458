/**
 * Storage Manager for medscan
 *
 * Coordinates the report files and the optional PostgreSQL result store. Local
 * runs write reports directly; queue workers store one record per image and the
 * reports of a run are rebuilt from the database afterwards.
 */

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StorageManager coordinates report files and PostgreSQL
type StorageManager struct {
	reports  *ReportWriter
	postgres *PostgresClient
}

// NewStorageManager creates a storage manager. An empty databaseURL leaves the
// result store disabled.
func NewStorageManager(ctx context.Context, reports *ReportWriter, databaseURL string) (*StorageManager, error) {
	if reports == nil {
		return nil, fmt.Errorf("report writer is required")
	}

	sm := &StorageManager{reports: reports}
	if databaseURL == "" {
		return sm, nil
	}

	postgres, err := NewPostgresClient(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close() // Cleanup on failure
		return nil, err
	}

	sm.postgres = postgres
	return sm, nil
}

// HasDatabase reports whether the result store is enabled
func (sm *StorageManager) HasDatabase() bool {
	return sm.postgres != nil
}

// BeginRun registers a batch so that its records can be stored and listed
// later. It is a no-op without a database.
func (sm *StorageManager) BeginRun(ctx context.Context, runID uuid.UUID, inputDir string, imageCount int) error {
	if sm.postgres == nil {
		return nil
	}
	return sm.postgres.CreateRun(ctx, runID, inputDir, imageCount)
}

// StoreRecord persists a single image record. It is a no-op without a database.
func (sm *StorageManager) StoreRecord(ctx context.Context, record *ImageRecord) error {
	if sm.postgres == nil {
		return nil
	}
	sanitized := sanitizeRecord(*record)
	if err := sm.postgres.UpsertImageRecord(ctx, &sanitized); err != nil {
		return fmt.Errorf("failed to store image record: %w", err)
	}
	return nil
}

// SaveRecords persists every record (when a database is configured) and then
// rewrites both report files.
func (sm *StorageManager) SaveRecords(ctx context.Context, records []ImageRecord) error {
	for i := range records {
		if err := sm.StoreRecord(ctx, &records[i]); err != nil {
			return err
		}
	}
	return sm.reports.Write(records)
}

// RebuildReports rewrites the report files and manifests of one run from the
// result store. uuid.Nil selects the most recent run. It returns the run that
// was rebuilt and the number of records read.
func (sm *StorageManager) RebuildReports(ctx context.Context, runID uuid.UUID) (uuid.UUID, int, error) {
	if sm.postgres == nil {
		return uuid.Nil, 0, fmt.Errorf("rebuilding reports requires a database")
	}
	if runID == uuid.Nil {
		latest, err := sm.postgres.LatestRunID(ctx)
		if err != nil {
			return uuid.Nil, 0, err
		}
		runID = latest
	}
	records, err := sm.postgres.ListImageRecords(ctx, runID)
	if err != nil {
		return runID, 0, err
	}
	if err := sm.reports.Write(records); err != nil {
		return runID, 0, err
	}
	return runID, len(records), nil
}

// Ping checks the result store when one is configured
func (sm *StorageManager) Ping(ctx context.Context) error {
	if sm.postgres == nil {
		return nil
	}
	return sm.postgres.Ping(ctx)
}

// Close releases the database connection
func (sm *StorageManager) Close() error {
	if sm.postgres == nil {
		return nil
	}
	return sm.postgres.Close()
}

// PostgreSQL rejects NUL bytes in text columns.
func sanitizeRecord(r ImageRecord) ImageRecord {
	r.NormalText = stripNUL(r.NormalText)
	r.AdvancedText = stripNUL(r.AdvancedText)
	r.MergedText = stripNUL(r.MergedText)
	r.NormalizedText = stripNUL(r.NormalizedText)
	r.ErrorMessage = stripNUL(r.ErrorMessage)
	return r
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
