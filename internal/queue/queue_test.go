package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/medscan/internal/errors"
	"github.com/adverant/nexus/medscan/internal/logging"
	"github.com/adverant/nexus/medscan/internal/processor"
	"github.com/adverant/nexus/medscan/internal/scanner"
	"github.com/adverant/nexus/medscan/internal/storage"
)

var testRunID = uuid.MustParse("6f1c2a9e-3b7d-4e52-9a10-2d8c4b5e7f01")

func testRef(name string, index int) scanner.ImageRef {
	return scanner.ImageRef{ID: scanner.ImageID(name), Index: index, Filename: name, Path: "data/" + name}
}

type fakeProcessor struct {
	outcome func(ctx context.Context, ref scanner.ImageRef) *processor.ImageOutcome
}

func (f *fakeProcessor) ProcessImage(ctx context.Context, ref scanner.ImageRef) *processor.ImageOutcome {
	return f.outcome(ctx, ref)
}

type fakeStore struct {
	mu      sync.Mutex
	records []storage.ImageRecord
	err     error
}

func (s *fakeStore) StoreRecord(ctx context.Context, r *storage.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, *r)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []ImageEvent
}

func (e *fakeEvents) Publish(ctx context.Context, event ImageEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *fakeEvents) statuses() []string {
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Status)
	}
	return out
}

func newTestConsumer(proc processor.ImageProcessor, store *fakeStore, events *fakeEvents, timeoutMs int64) *Consumer {
	return newConsumer(&ConsumerConfig{
		RedisURL:          "redis://localhost:6379",
		QueueName:         "medscan:test",
		Concurrency:       1,
		Processor:         proc,
		Store:             store,
		Events:            events,
		ProcessingTimeout: timeoutMs,
	}, nil, logging.NewLogger("test"))
}

func scanTask(t *testing.T, ref scanner.ImageRef) *asynq.Task {
	t.Helper()
	task, err := NewScanTask(testRunID, ref)
	if err != nil {
		t.Fatalf("NewScanTask() error = %v", err)
	}
	return task
}

func TestScanPayloadRoundTrip(t *testing.T) {
	ref := testRef("page one.png", 4)
	task := scanTask(t, ref)
	if task.Type() != TypeScanImage {
		t.Fatalf("task type = %q", task.Type())
	}

	got, err := ParseScanPayload(task.Payload())
	if err != nil {
		t.Fatalf("ParseScanPayload() error = %v", err)
	}
	if got.Ref != ref || got.RunID != testRunID {
		t.Errorf("ParseScanPayload() = %+v, want run %s and %+v", got, testRunID, ref)
	}
}

func TestNewScanTaskRequiresRun(t *testing.T) {
	if _, err := NewScanTask(uuid.Nil, testRef("a.png", 1)); err == nil {
		t.Error("expected error for missing run ID")
	}
}

func TestParseScanPayloadRejects(t *testing.T) {
	run, idA := testRunID.String(), scanner.ImageID("a.png").String()
	testCases := []struct {
		name    string
		payload string
	}{
		{"not json", `{`},
		{"missing run", `{"image_id":"` + idA + `","index":1,"filename":"a.png","path":"a.png"}`},
		{"nil run", `{"run_id":"` + uuid.Nil.String() + `","image_id":"` + idA + `","index":1,"filename":"a.png","path":"a.png"}`},
		{"missing path", `{"run_id":"` + run + `","image_id":"` + idA + `","index":1,"filename":"a.png"}`},
		{"zero index", `{"run_id":"` + run + `","image_id":"` + idA + `","index":0,"filename":"a.png","path":"a.png"}`},
		{"bad uuid", `{"run_id":"` + run + `","image_id":"nope","index":1,"filename":"a.png","path":"a.png"}`},
		{"id does not match file", `{"run_id":"` + run + `","image_id":"` + scanner.ImageID("b.png").String() + `","index":1,"filename":"a.png","path":"a.png"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseScanPayload([]byte(tc.payload)); err == nil {
				t.Errorf("ParseScanPayload(%s) succeeded, want error", tc.payload)
			}
		})
	}
}

func TestEnqueuerTaskOptions(t *testing.T) {
	e, err := NewEnqueuer("redis://localhost:6379", "medscan:images", 3)
	if err != nil {
		t.Fatalf("NewEnqueuer() error = %v", err)
	}
	defer e.Close()

	ref := testRef("a.png", 1)
	got := map[asynq.OptionType]interface{}{}
	for _, opt := range e.TaskOptions(testRunID, ref) {
		got[opt.Type()] = opt.Value()
	}

	if got[asynq.QueueOpt] != "medscan:images" {
		t.Errorf("queue = %v", got[asynq.QueueOpt])
	}
	if got[asynq.TaskIDOpt] != testRunID.String()+":"+ref.ID.String() {
		t.Errorf("task id = %v, want run and image id", got[asynq.TaskIDOpt])
	}

	// The same image in another run must not collide.
	other := map[asynq.OptionType]interface{}{}
	for _, opt := range e.TaskOptions(uuid.New(), ref) {
		other[opt.Type()] = opt.Value()
	}
	if other[asynq.TaskIDOpt] == got[asynq.TaskIDOpt] {
		t.Errorf("task id %v reused across runs", got[asynq.TaskIDOpt])
	}
	if got[asynq.MaxRetryOpt] != 3 {
		t.Errorf("max retry = %v", got[asynq.MaxRetryOpt])
	}
}

func TestNewEnqueuerValidation(t *testing.T) {
	if _, err := NewEnqueuer("", "q", 3); err == nil {
		t.Error("expected error for empty Redis URL")
	}
	if _, err := NewEnqueuer("redis://localhost:6379", "", 3); err == nil {
		t.Error("expected error for empty queue name")
	}
}

func TestHandleScanImageSuccess(t *testing.T) {
	ref := testRef("a.png", 1)
	proc := &fakeProcessor{outcome: func(ctx context.Context, r scanner.ImageRef) *processor.ImageOutcome {
		return &processor.ImageOutcome{Ref: r, Status: processor.StatusSucceeded}
	}}
	store, events := &fakeStore{}, &fakeEvents{}
	c := newTestConsumer(proc, store, events, 0)

	if err := c.handleScanImage(context.Background(), scanTask(t, ref)); err != nil {
		t.Fatalf("handleScanImage() error = %v", err)
	}
	if len(store.records) != 1 || store.records[0].ImageID != ref.ID || store.records[0].Status != storage.StatusSucceeded {
		t.Errorf("stored records = %+v", store.records)
	}
	if store.records[0].RunID != testRunID {
		t.Errorf("stored run = %s, want %s", store.records[0].RunID, testRunID)
	}
	if got := events.statuses(); len(got) != 2 || got[0] != EventProcessing || got[1] != EventCompleted {
		t.Errorf("events = %v", got)
	}
}

func TestHandleScanImageFailures(t *testing.T) {
	testCases := []struct {
		name      string
		err       *apperrors.ProcessingError
		wantRetry bool
	}{
		{"load failure is permanent", apperrors.NewLoadFailedError("x", "a.png", fmt.Errorf("corrupt")), false},
		{"preprocess failure is permanent", apperrors.NewPreprocessFailedError("x", "advanced", fmt.Errorf("empty")), false},
		{"classifier failure is retried", apperrors.NewClassifyFailedError("x", fmt.Errorf("503")), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			proc := &fakeProcessor{outcome: func(ctx context.Context, r scanner.ImageRef) *processor.ImageOutcome {
				return &processor.ImageOutcome{Ref: r, Status: processor.StatusFailed, Err: tc.err}
			}}
			store, events := &fakeStore{}, &fakeEvents{}
			c := newTestConsumer(proc, store, events, 0)

			err := c.handleScanImage(context.Background(), scanTask(t, testRef("a.png", 1)))
			if err == nil {
				t.Fatal("handleScanImage() should fail")
			}
			if skipped := errors.Is(err, asynq.SkipRetry); skipped == tc.wantRetry {
				t.Errorf("SkipRetry = %v, want %v (err=%v)", skipped, !tc.wantRetry, err)
			}
			if len(store.records) != 1 || store.records[0].ErrorCode != string(tc.err.Code) {
				t.Errorf("stored records = %+v", store.records)
			}
			if got := events.statuses(); len(got) != 2 || got[1] != EventFailed {
				t.Errorf("events = %v", got)
			}
			if events.events[1].Details["error_code"] != string(tc.err.Code) {
				t.Errorf("event details = %v", events.events[1].Details)
			}
		})
	}
}

func TestHandleScanImageTimeout(t *testing.T) {
	proc := &fakeProcessor{outcome: func(ctx context.Context, r scanner.ImageRef) *processor.ImageOutcome {
		<-ctx.Done()
		return &processor.ImageOutcome{Ref: r, Status: processor.StatusFailed}
	}}
	store, events := &fakeStore{}, &fakeEvents{}
	c := newTestConsumer(proc, store, events, 20)

	err := c.handleScanImage(context.Background(), scanTask(t, testRef("slow.png", 2)))
	if !apperrors.IsCode(err, apperrors.ErrorProcessingTimeout) {
		t.Fatalf("handleScanImage() error = %v, want PROCESSING_TIMEOUT", err)
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Errorf("timeouts should be retried")
	}
	if store.records[0].ErrorCode != string(apperrors.ErrorProcessingTimeout) {
		t.Errorf("stored error code = %q", store.records[0].ErrorCode)
	}
}

func TestHandleScanImageStoreFailure(t *testing.T) {
	proc := &fakeProcessor{outcome: func(ctx context.Context, r scanner.ImageRef) *processor.ImageOutcome {
		return &processor.ImageOutcome{Ref: r, Status: processor.StatusSucceeded}
	}}
	store, events := &fakeStore{err: fmt.Errorf("connection refused")}, &fakeEvents{}
	c := newTestConsumer(proc, store, events, 0)

	err := c.handleScanImage(context.Background(), scanTask(t, testRef("a.png", 1)))
	if !apperrors.IsCode(err, apperrors.ErrorStorageFailed) {
		t.Fatalf("handleScanImage() error = %v, want STORAGE_FAILED", err)
	}
	if got := events.statuses(); got[len(got)-1] != EventFailed {
		t.Errorf("events = %v", got)
	}
}

func TestHandleScanImageBadPayload(t *testing.T) {
	c := newTestConsumer(&fakeProcessor{}, &fakeStore{}, &fakeEvents{}, 0)
	err := c.handleScanImage(context.Background(), asynq.NewTask(TypeScanImage, []byte("{}")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("bad payload should skip retry, got %v", err)
	}
}

// Requires a reachable Redis; set REDIS_URL to run.
func TestEventPublisherRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	queueName := fmt.Sprintf("medscan:test:%d", time.Now().UnixNano())

	p, err := NewEventPublisher(url, queueName)
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	defer p.client.Del(ctx, p.Key(EventProcessing), p.Key(EventCompleted), p.Key(EventFailed), p.Key("results"), p.Key("errors"))

	sub := p.client.Subscribe(ctx, p.Key("events"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ref := testRef("a.png", 1)
	for _, status := range []string{EventProcessing, EventFailed, EventProcessing, EventCompleted} {
		if err := p.Publish(ctx, ImageEvent{ImageID: ref.ID.String(), Index: 1, Filename: ref.Filename, Status: status, Details: map[string]interface{}{"n": 1}}); err != nil {
			t.Fatalf("Publish(%s) error = %v", status, err)
		}
	}

	stats, err := p.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats[EventProcessing] != 0 || stats[EventCompleted] != 1 || stats[EventFailed] != 0 {
		t.Errorf("stats = %v", stats)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	if msg.Channel != p.Key("events") {
		t.Errorf("channel = %q", msg.Channel)
	}

	if err := p.Publish(ctx, ImageEvent{ImageID: "x", Status: "bogus"}); err == nil {
		t.Error("expected error for unknown status")
	}
}
