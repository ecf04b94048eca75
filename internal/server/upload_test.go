package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skarimi/docqa/internal/queue/streams"
	"github.com/skarimi/docqa/internal/store"
)

type fakeDocStore struct {
	docs map[string]store.Document
	jobs map[string]store.IngestionJob
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		docs: make(map[string]store.Document),
		jobs: make(map[string]store.IngestionJob),
	}
}

func (f *fakeDocStore) CreateDocument(_ context.Context, doc store.Document) error {
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocStore) CreateIngestionJob(_ context.Context, jobID, documentID string) error {
	f.jobs[jobID] = store.IngestionJob{ID: jobID, DocumentID: documentID, Status: store.JobStatusPending}
	return nil
}

func (f *fakeDocStore) GetIngestionJob(_ context.Context, id string) (store.IngestionJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return store.IngestionJob{}, store.ErrNotFound
	}
	return job, nil
}

type fakePublisher struct {
	envelopes []streams.Envelope
	streams   []string
}

func (f *fakePublisher) Publish(_ context.Context, stream string, env streams.Envelope, _ ...streams.PublishOption) (string, error) {
	f.streams = append(f.streams, stream)
	f.envelopes = append(f.envelopes, env)
	return "1-0", nil
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, w.FormDataContentType()
}

func newUploadContext(t *testing.T, filename, content string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	body, contentType := multipartUpload(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestUploadAcceptsDocumentAndEnqueuesJob(t *testing.T) {
	st := newFakeDocStore()
	pub := &fakePublisher{}
	h := &UploadHandler{Store: st, Publisher: pub, Dir: t.TempDir(), MaxSize: 1 << 20}

	ctx, rec := newUploadContext(t, "notes.txt", "some document text")
	if err := h.upload(ctx); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != store.JobStatusPending {
		t.Fatalf("expected pending status, got %q", resp.Status)
	}
	if _, ok := st.docs[resp.DocumentID]; !ok {
		t.Fatal("document row not created")
	}
	if _, ok := st.jobs[resp.JobID]; !ok {
		t.Fatal("ingestion job row not created")
	}

	if len(pub.envelopes) != 1 {
		t.Fatalf("expected 1 published envelope, got %d", len(pub.envelopes))
	}
	env := pub.envelopes[0]
	if pub.streams[0] != streams.StreamFileUpload {
		t.Fatalf("published to wrong stream %q", pub.streams[0])
	}
	if env.EventID != resp.JobID {
		t.Fatalf("envelope event id %q must equal job id %q", env.EventID, resp.JobID)
	}
	if env.Attempt != 1 {
		t.Fatalf("first delivery must carry attempt 1, got %d", env.Attempt)
	}
	var payload streams.FileUploadPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.DocumentID != resp.DocumentID || payload.Filename != "notes.txt" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Destination != h.Dir {
		t.Fatalf("payload destination %q, want uploads dir %q", payload.Destination, h.Dir)
	}
}

func TestUploadStampsUploadTime(t *testing.T) {
	st := newFakeDocStore()
	h := &UploadHandler{Store: st, Publisher: &fakePublisher{}, Dir: t.TempDir(), MaxSize: 1 << 20}

	ctx, rec := newUploadContext(t, "notes.txt", "some document text")
	if err := h.upload(ctx); err != nil {
		t.Fatalf("upload: %v", err)
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	doc := st.docs[resp.DocumentID]
	if doc.UploadedAt.IsZero() {
		t.Fatal("uploaded document must carry its upload time")
	}
	// A fresh upload must never be past any sane retention cutoff.
	cutoff := time.Now().Add(-24 * time.Hour)
	if !doc.UploadedAt.After(cutoff) {
		t.Fatalf("fresh upload stamped %v, already past a 24h retention cutoff", doc.UploadedAt)
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	h := &UploadHandler{Store: newFakeDocStore(), Publisher: &fakePublisher{}, Dir: t.TempDir()}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)

	err := h.upload(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	pub := &fakePublisher{}
	h := &UploadHandler{Store: newFakeDocStore(), Publisher: pub, Dir: t.TempDir()}

	ctx, _ := newUploadContext(t, "image.png", "binary junk")
	err := h.upload(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if len(pub.envelopes) != 0 {
		t.Fatal("rejected upload must not be enqueued")
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	h := &UploadHandler{Store: newFakeDocStore(), Publisher: &fakePublisher{}, Dir: t.TempDir(), MaxSize: 10}

	ctx, _ := newUploadContext(t, "big.txt", strings.Repeat("x", 100))
	err := h.upload(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestJobStatusEndpoint(t *testing.T) {
	st := newFakeDocStore()
	st.jobs["job-1"] = store.IngestionJob{
		ID:         "job-1",
		DocumentID: "doc-1",
		Status:     store.JobStatusFailed,
		Attempts:   3,
		Stage:      "embed",
		LastError:  "provider unavailable",
	}
	h := &UploadHandler{Store: st}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("job-1")

	if err := h.job(ctx); err != nil {
		t.Fatalf("job: %v", err)
	}
	var resp JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != store.JobStatusFailed || resp.Stage != "embed" || resp.Attempts != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	h := &UploadHandler{Store: newFakeDocStore()}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("missing")

	err := h.job(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
