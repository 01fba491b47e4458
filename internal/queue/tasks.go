package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/medscan/internal/scanner"
)

// TypeScanImage is the asynq task type for processing one source image
const TypeScanImage = "scan:image"

// ScanPayload is the JSON payload of a scan:image task
type ScanPayload struct {
	RunID    string `json:"run_id"`
	ImageID  string `json:"image_id"`
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// ScanJob is a decoded scan:image task
type ScanJob struct {
	RunID uuid.UUID
	Ref   scanner.ImageRef
}

// NewScanTask builds the task for ref within a run. Options are supplied at
// enqueue time.
func NewScanTask(runID uuid.UUID, ref scanner.ImageRef) (*asynq.Task, error) {
	if runID == uuid.Nil {
		return nil, fmt.Errorf("run ID is required")
	}
	payload, err := json.Marshal(ScanPayload{
		RunID:    runID.String(),
		ImageID:  ref.ID.String(),
		Index:    ref.Index,
		Filename: ref.Filename,
		Path:     ref.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan payload: %w", err)
	}
	return asynq.NewTask(TypeScanImage, payload), nil
}

// ParseScanPayload decodes a scan:image payload
func ParseScanPayload(data []byte) (ScanJob, error) {
	var p ScanPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ScanJob{}, fmt.Errorf("failed to unmarshal scan payload: %w", err)
	}
	if p.Path == "" || p.Filename == "" {
		return ScanJob{}, fmt.Errorf("scan payload missing path or filename")
	}
	if p.Index < 1 {
		return ScanJob{}, fmt.Errorf("scan payload has invalid index %d", p.Index)
	}

	runID, err := uuid.Parse(p.RunID)
	if err != nil || runID == uuid.Nil {
		return ScanJob{}, fmt.Errorf("scan payload has invalid run_id %q", p.RunID)
	}
	id, err := uuid.Parse(p.ImageID)
	if err != nil {
		return ScanJob{}, fmt.Errorf("scan payload has invalid image_id %q: %w", p.ImageID, err)
	}
	if id != scanner.ImageID(p.Filename) {
		return ScanJob{}, fmt.Errorf("image_id %s does not match filename %q", id, p.Filename)
	}

	return ScanJob{
		RunID: runID,
		Ref:   scanner.ImageRef{ID: id, Index: p.Index, Filename: p.Filename, Path: p.Path},
	}, nil
}
