/**
 * PostgreSQL Client for the medscan result store
 *
 * Persists one row per source image and run, keyed by the run ID and the
 * image's stable UUID, so that queue workers can process images independently
 * and the reports of one run can be rebuilt later in sequence order.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS medscan;

	CREATE TABLE IF NOT EXISTS medscan.runs (
		id          UUID PRIMARY KEY,
		input_dir   TEXT NOT NULL,
		image_count INTEGER NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	);

	CREATE TABLE IF NOT EXISTS medscan.image_results (
		run_id          UUID NOT NULL REFERENCES medscan.runs (id) ON DELETE CASCADE,
		id              UUID NOT NULL,
		seq_index       INTEGER NOT NULL,
		filename        TEXT NOT NULL,
		status          TEXT NOT NULL,
		normal_text     TEXT NOT NULL DEFAULT '',
		advanced_text   TEXT NOT NULL DEFAULT '',
		merged_text     TEXT NOT NULL DEFAULT '',
		normalized_text TEXT NOT NULL DEFAULT '',
		chosen_variant  TEXT NOT NULL DEFAULT '',
		partial         BOOLEAN NOT NULL DEFAULT FALSE,
		skew_angle      DOUBLE PRECISION NOT NULL DEFAULT 0,
		rotated         BOOLEAN NOT NULL DEFAULT FALSE,
		normal_file     TEXT NOT NULL DEFAULT '',
		advanced_file   TEXT NOT NULL DEFAULT '',
		chemicals       TEXT[] NOT NULL DEFAULT '{}',
		diseases        TEXT[] NOT NULL DEFAULT '{}',
		error_code      TEXT,
		error_message   TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (run_id, id)
	);

	CREATE INDEX IF NOT EXISTS image_results_seq_idx ON medscan.image_results (run_id, seq_index);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the result table when missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateRun registers a batch. Image records must reference a registered run.
func (p *PostgresClient) CreateRun(ctx context.Context, runID uuid.UUID, inputDir string, imageCount int) error {
	if runID == uuid.Nil {
		return fmt.Errorf("run ID is required")
	}
	query := `
		INSERT INTO medscan.runs (id, input_dir, image_count)
		VALUES ($1::uuid, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			input_dir = EXCLUDED.input_dir,
			image_count = EXCLUDED.image_count
	`
	if _, err := p.db.ExecContext(ctx, query, runID.String(), inputDir, imageCount); err != nil {
		return fmt.Errorf("failed to create run %s: %w", runID, err)
	}
	return nil
}

// LatestRunID returns the most recently registered run
func (p *PostgresClient) LatestRunID(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM medscan.runs ORDER BY created_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("no runs recorded")
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	return id, nil
}

// UpsertImageRecord inserts or replaces the row for one image
func (p *PostgresClient) UpsertImageRecord(ctx context.Context, r *ImageRecord) error {
	if r.RunID == uuid.Nil {
		return fmt.Errorf("run ID is required")
	}
	if r.ImageID == uuid.Nil {
		return fmt.Errorf("image ID is required")
	}
	if r.Status == "" {
		return fmt.Errorf("status is required")
	}

	query := `
		INSERT INTO medscan.image_results (
			run_id, id, seq_index, filename, status,
			normal_text, advanced_text, merged_text, normalized_text,
			chosen_variant, partial, skew_angle, rotated, normal_file, advanced_file,
			chemicals, diseases, error_code, error_message, created_at, updated_at
		) VALUES (
			$1::uuid, $2::uuid, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, NULLIF($18, ''), NULLIF($19, ''), NOW(), NOW()
		)
		ON CONFLICT (run_id, id) DO UPDATE SET
			seq_index = EXCLUDED.seq_index,
			filename = EXCLUDED.filename,
			status = EXCLUDED.status,
			normal_text = EXCLUDED.normal_text,
			advanced_text = EXCLUDED.advanced_text,
			merged_text = EXCLUDED.merged_text,
			normalized_text = EXCLUDED.normalized_text,
			chosen_variant = EXCLUDED.chosen_variant,
			partial = EXCLUDED.partial,
			skew_angle = EXCLUDED.skew_angle,
			rotated = EXCLUDED.rotated,
			normal_file = EXCLUDED.normal_file,
			advanced_file = EXCLUDED.advanced_file,
			chemicals = EXCLUDED.chemicals,
			diseases = EXCLUDED.diseases,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()
	`

	_, err := p.db.ExecContext(ctx, query,
		r.RunID.String(),              // $1
		r.ImageID.String(),            // $2
		r.Index,                       // $3
		r.Filename,                    // $4
		r.Status,                      // $5
		r.NormalText,                  // $6
		r.AdvancedText,                // $7
		r.MergedText,                  // $8
		r.NormalizedText,              // $9
		r.ChosenVariant,               // $10
		r.Partial,                     // $11
		r.SkewAngle,                   // $12
		r.Rotated,                     // $13
		r.NormalFile,                  // $14
		r.AdvancedFile,                // $15
		pq.Array(nonNil(r.Chemicals)), // $16
		pq.Array(nonNil(r.Diseases)),  // $17
		r.ErrorCode,                   // $18
		r.ErrorMessage,                // $19
	)
	if err != nil {
		return fmt.Errorf("failed to upsert image result (image=%s, status=%s): %w", r.ImageID, r.Status, err)
	}

	return nil
}

// ListImageRecords returns the images of one run ordered by sequence index
func (p *PostgresClient) ListImageRecords(ctx context.Context, runID uuid.UUID) ([]ImageRecord, error) {
	query := `
		SELECT run_id, id, seq_index, filename, status,
			normal_text, advanced_text, merged_text, normalized_text,
			chosen_variant, partial, skew_angle, rotated, normal_file, advanced_file,
			chemicals, diseases,
			COALESCE(error_code, ''), COALESCE(error_message, ''), updated_at
		FROM medscan.image_results
		WHERE run_id = $1::uuid
		ORDER BY seq_index, filename
	`

	rows, err := p.db.QueryContext(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query image results: %w", err)
	}
	defer rows.Close()

	var records []ImageRecord
	for rows.Next() {
		var r ImageRecord
		var chemicals, diseases pq.StringArray
		if err := rows.Scan(
			&r.RunID, &r.ImageID, &r.Index, &r.Filename, &r.Status,
			&r.NormalText, &r.AdvancedText, &r.MergedText, &r.NormalizedText,
			&r.ChosenVariant, &r.Partial, &r.SkewAngle, &r.Rotated, &r.NormalFile, &r.AdvancedFile,
			&chemicals, &diseases,
			&r.ErrorCode, &r.ErrorMessage, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan image result: %w", err)
		}
		r.Chemicals = []string(chemicals)
		r.Diseases = []string(diseases)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate image results: %w", err)
	}

	return records, nil
}

// DeleteAll removes every run and its results
func (p *PostgresClient) DeleteAll(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM medscan.runs`); err != nil {
		return fmt.Errorf("failed to clear image results: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	return p.db.Close()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
