package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skarimi/docqa/internal/queue/streams"
	"github.com/skarimi/docqa/internal/vector"
)

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(io.Discard, "", 0)
}

type recordingIndex struct {
	memory *vector.Memory

	mu       sync.Mutex
	lastWait bool
}

func newRecordingIndex() *recordingIndex {
	return &recordingIndex{memory: vector.NewMemory()}
}

func (r *recordingIndex) EnsureCollection(ctx context.Context, name string, dimension int, distance string) error {
	return r.memory.EnsureCollection(ctx, name, dimension, distance)
}

func (r *recordingIndex) Upsert(ctx context.Context, collection string, points []vector.Point, wait bool) error {
	r.mu.Lock()
	r.lastWait = wait
	r.mu.Unlock()
	return r.memory.Upsert(ctx, collection, points, wait)
}

type fakeQueue struct {
	mu        sync.Mutex
	acked     []string
	published map[string][]streams.Envelope
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][]streams.Envelope)}
}

func (f *fakeQueue) Read(context.Context, string, ...streams.ConsumerOption) ([]streams.Message, error) {
	return nil, nil
}

func (f *fakeQueue) Ack(_ context.Context, _ string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeQueue) AutoClaim(context.Context, string, time.Duration, string, int64) ([]streams.Message, string, error) {
	return nil, "0-0", nil
}

func (f *fakeQueue) Publish(_ context.Context, stream string, env streams.Envelope, _ ...streams.PublishOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[stream] = append(f.published[stream], env)
	return "1-0", nil
}

type fakeJobs struct {
	mu         sync.Mutex
	processing map[string]int
	succeeded  map[string]int
	failed     map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		processing: make(map[string]int),
		succeeded:  make(map[string]int),
		failed:     make(map[string]string),
	}
}

func (f *fakeJobs) MarkJobProcessing(_ context.Context, jobID string, attempt int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing[jobID] = attempt
	return nil
}

func (f *fakeJobs) MarkJobSucceeded(_ context.Context, jobID string, chunkCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded[jobID] = chunkCount
	return nil
}

func (f *fakeJobs) MarkJobFailed(_ context.Context, jobID, stage, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = stage
	return nil
}

func uploadMessage(t *testing.T, payload streams.FileUploadPayload, attempt int) streams.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return streams.Message{
		ID: "1-1",
		Envelope: streams.Envelope{
			EventID:        "job-1",
			EventType:      streams.EventFileUploaded,
			OccurredAt:     time.Now().UTC(),
			Attempt:        attempt,
			PayloadVersion: "v1",
			Data:           data,
		},
	}
}

func newTestProcessor(t *testing.T, embedder Embedder, queue *fakeQueue, jobs *fakeJobs, maxAttempts int) (*Processor, *recordingIndex) {
	t.Helper()
	index := newRecordingIndex()
	cfg := ProcessorConfig{MaxAttempts: maxAttempts, Concurrency: 2}
	p := NewProcessor(queue, queue, newTestPipeline(t, embedder, index), jobs, cfg, testLogger(t))
	return p, index
}

func TestProcessorSuccessAcksAndRecordsJob(t *testing.T) {
	queue := newFakeQueue()
	jobs := newFakeJobs()
	p, index := newTestProcessor(t, &stubEmbedder{dimension: 8}, queue, jobs, 3)

	payload := writeUpload(t, "doc.txt", strings.Repeat("x", 3000))
	p.Handle(context.Background(), uploadMessage(t, payload, 1))

	if jobs.succeeded["job-1"] != 4 {
		t.Fatalf("expected job recorded with 4 chunks, got %d", jobs.succeeded["job-1"])
	}
	if jobs.processing["job-1"] != 1 {
		t.Fatalf("expected attempt 1 recorded, got %d", jobs.processing["job-1"])
	}
	if len(queue.acked) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(queue.acked))
	}
	if index.memory.Count("documents") != 4 {
		t.Fatalf("expected 4 indexed points, got %d", index.memory.Count("documents"))
	}
	if len(queue.published) != 0 {
		t.Fatalf("success must not republish, got %v", queue.published)
	}
}

func TestProcessorTransientFailureRepublishesWithBumpedAttempt(t *testing.T) {
	queue := newFakeQueue()
	jobs := newFakeJobs()
	embedder := &stubEmbedder{dimension: 8, err: errTransient}
	p, _ := newTestProcessor(t, embedder, queue, jobs, 3)

	payload := writeUpload(t, "doc.txt", strings.Repeat("x", 500))
	p.Handle(context.Background(), uploadMessage(t, payload, 1))

	retries := queue.published[streams.StreamFileUpload]
	if len(retries) != 1 {
		t.Fatalf("expected 1 retry publish, got %d", len(retries))
	}
	if retries[0].Attempt != 2 {
		t.Fatalf("expected attempt bumped to 2, got %d", retries[0].Attempt)
	}
	if retries[0].EventID != "job-1" {
		t.Fatalf("retry must keep the job identity, got %q", retries[0].EventID)
	}
	if len(queue.published[streams.StreamFileUploadDead]) != 0 {
		t.Fatal("retryable failure must not dead-letter")
	}
	if _, ok := jobs.failed["job-1"]; ok {
		t.Fatal("job must not be marked failed while retries remain")
	}
	if len(queue.acked) != 1 {
		t.Fatalf("delivered message must be acked, got %d acks", len(queue.acked))
	}
}

func TestProcessorExhaustedRetriesDeadLetters(t *testing.T) {
	queue := newFakeQueue()
	jobs := newFakeJobs()
	embedder := &stubEmbedder{dimension: 8, err: errTransient}
	p, _ := newTestProcessor(t, embedder, queue, jobs, 3)

	payload := writeUpload(t, "doc.txt", strings.Repeat("x", 500))
	p.Handle(context.Background(), uploadMessage(t, payload, 3))

	if len(queue.published[streams.StreamFileUpload]) != 0 {
		t.Fatal("exhausted job must not be retried again")
	}
	if len(queue.published[streams.StreamFileUploadDead]) != 1 {
		t.Fatalf("expected dead-letter publish, got %d", len(queue.published[streams.StreamFileUploadDead]))
	}
	if jobs.failed["job-1"] != StageEmbed {
		t.Fatalf("expected failure attributed to %s, got %q", StageEmbed, jobs.failed["job-1"])
	}
}

func TestProcessorPermanentFailureSkipsRetries(t *testing.T) {
	queue := newFakeQueue()
	jobs := newFakeJobs()
	p, _ := newTestProcessor(t, &stubEmbedder{dimension: 8}, queue, jobs, 3)

	payload := streams.FileUploadPayload{
		DocumentID: "doc",
		Filename:   "gone.txt",
		Path:       filepath.Join(t.TempDir(), "gone.txt"),
	}
	p.Handle(context.Background(), uploadMessage(t, payload, 1))

	if len(queue.published[streams.StreamFileUpload]) != 0 {
		t.Fatal("permanent failure must not be retried")
	}
	if len(queue.published[streams.StreamFileUploadDead]) != 1 {
		t.Fatal("permanent failure must be dead-lettered on first attempt")
	}
	if jobs.failed["job-1"] != StageRead {
		t.Fatalf("expected failure at %s, got %q", StageRead, jobs.failed["job-1"])
	}
}

func TestProcessorDropsUnknownEventTypes(t *testing.T) {
	queue := newFakeQueue()
	jobs := newFakeJobs()
	p, _ := newTestProcessor(t, &stubEmbedder{dimension: 8}, queue, jobs, 3)

	msg := uploadMessage(t, streams.FileUploadPayload{DocumentID: "doc"}, 1)
	msg.Envelope.EventType = "something.else"
	p.Handle(context.Background(), msg)

	if len(queue.acked) != 1 {
		t.Fatal("unknown event must still be acked")
	}
	if len(jobs.processing) != 0 {
		t.Fatal("unknown event must not touch job state")
	}
}

var errTransient = errors.New("embedding provider unavailable")
