package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Requires a reachable PostgreSQL; set DATABASE_URL to run.
func newDatabaseManager(t *testing.T, ctx context.Context, dir string) *StorageManager {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	reports := NewReportWriter(filepath.Join(dir, "ocr.txt"), filepath.Join(dir, "ent.txt")).
		WithManifests(filepath.Join(dir, "normal"), filepath.Join(dir, "advanced"))
	sm, err := NewStorageManager(ctx, reports, url)
	if err != nil {
		t.Fatalf("NewStorageManager() error = %v", err)
	}
	t.Cleanup(func() { sm.Close() })

	if err := sm.postgres.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	return sm
}

func withRun(records []ImageRecord, runID uuid.UUID) []ImageRecord {
	for i := range records {
		records[i].RunID = runID
	}
	return records
}

func TestPostgresRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sm := newDatabaseManager(t, ctx, t.TempDir())

	runID := uuid.New()
	if err := sm.BeginRun(ctx, runID, "/data/batch", 3); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	records := withRun(sampleRecords(), runID)
	if err := sm.SaveRecords(ctx, records); err != nil {
		t.Fatalf("SaveRecords() error = %v", err)
	}

	// Upserting again must replace, not duplicate.
	records[0].Chemicals = []string{"aspirin", "aspirin"}
	if err := sm.StoreRecord(ctx, &records[0]); err != nil {
		t.Fatalf("StoreRecord() error = %v", err)
	}

	got, err := sm.postgres.ListImageRecords(ctx, runID)
	if err != nil {
		t.Fatalf("ListImageRecords() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i, r := range got {
		if r.Index != i+1 {
			t.Errorf("record %d has index %d", i, r.Index)
		}
		if r.RunID != runID {
			t.Errorf("record %d run = %s, want %s", i, r.RunID, runID)
		}
	}
	if len(got[2].Chemicals) != 2 {
		t.Errorf("chemicals = %v, want duplicates kept", got[2].Chemicals)
	}
	if got[1].ErrorCode != "LOAD_FAILED" {
		t.Errorf("error code = %q", got[1].ErrorCode)
	}
	if !got[2].Rotated || got[2].AdvancedFile != "advanced_preprocessed_3.png" {
		t.Errorf("preprocessed outputs lost: %+v", got[2])
	}

	rebuilt, n, err := sm.RebuildReports(ctx, runID)
	if err != nil || n != 3 || rebuilt != runID {
		t.Fatalf("RebuildReports() = %s, %d, %v", rebuilt, n, err)
	}
}

func TestPostgresStoreRequiresRegisteredRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sm := newDatabaseManager(t, ctx, t.TempDir())

	record := sampleRecords()[0]
	if err := sm.StoreRecord(ctx, &record); err == nil {
		t.Errorf("StoreRecord() without run ID should fail")
	}
	record.RunID = uuid.New()
	if err := sm.StoreRecord(ctx, &record); err == nil {
		t.Errorf("StoreRecord() for an unregistered run should fail")
	}
}

func TestRebuildReportsUsesOnlyLatestRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dir := t.TempDir()
	sm := newDatabaseManager(t, ctx, dir)

	first := uuid.New()
	if err := sm.BeginRun(ctx, first, "/data/first", 3); err != nil {
		t.Fatalf("BeginRun(first) error = %v", err)
	}
	if err := sm.SaveRecords(ctx, withRun(sampleRecords(), first)); err != nil {
		t.Fatalf("SaveRecords(first) error = %v", err)
	}

	second := uuid.New()
	if err := sm.BeginRun(ctx, second, "/data/second", 1); err != nil {
		t.Fatalf("BeginRun(second) error = %v", err)
	}
	only := ImageRecord{
		RunID:         second,
		ImageID:       uuid.New(),
		Index:         1,
		Filename:      "x.png",
		Status:        StatusSucceeded,
		MergedText:    "Ibuprofen for arthritis",
		ChosenVariant: "normal",
		NormalFile:    "normal_preprocessed_1.png",
		AdvancedFile:  "advanced_preprocessed_1.png",
		Chemicals:     []string{"ibuprofen"},
		Diseases:      []string{"arthritis"},
	}
	if err := sm.StoreRecord(ctx, &only); err != nil {
		t.Fatalf("StoreRecord(second) error = %v", err)
	}

	// Leave stale output from the first run behind.
	if err := os.RemoveAll(filepath.Join(dir, "normal")); err != nil {
		t.Fatal(err)
	}

	rebuilt, n, err := sm.RebuildReports(ctx, uuid.Nil)
	if err != nil {
		t.Fatalf("RebuildReports() error = %v", err)
	}
	if rebuilt != second || n != 1 {
		t.Fatalf("RebuildReports() = %s, %d; want %s, 1", rebuilt, n, second)
	}

	ocr, err := os.ReadFile(filepath.Join(dir, "ocr.txt"))
	if err != nil {
		t.Fatal(err)
	}
	want := "Image 1:\nIbuprofen for arthritis\n" + Separator + "\n"
	if string(ocr) != want {
		t.Errorf("ocr results = %q, want %q", ocr, want)
	}
	entities, err := os.ReadFile(filepath.Join(dir, "ent.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(entities), "metformin") || strings.Contains(string(entities), "aspirin") {
		t.Errorf("entities include the first run: %q", entities)
	}

	for _, sub := range []string{"normal", "advanced"} {
		entries, err := ReadManifest(filepath.Join(dir, sub))
		if err != nil {
			t.Fatalf("ReadManifest(%s) error = %v", sub, err)
		}
		if len(entries) != 1 || entries[0].Source != "x.png" || entries[0].ImageID != only.ImageID.String() {
			t.Errorf("%s manifest = %+v", sub, entries)
		}
	}

	// The first run stays addressable by ID.
	if _, n, err := sm.RebuildReports(ctx, first); err != nil || n != 3 {
		t.Errorf("RebuildReports(first) = %d, %v", n, err)
	}
}

func TestNewPostgresClientRequiresURL(t *testing.T) {
	if _, err := NewPostgresClient(""); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
