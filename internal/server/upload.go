package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/skarimi/docqa/internal/extract"
	"github.com/skarimi/docqa/internal/queue/streams"
	"github.com/skarimi/docqa/internal/store"
)

// DocumentStore is the bookkeeping surface upload and status handlers need.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc store.Document) error
	GetDocument(ctx context.Context, id string) (store.Document, error)
	CreateIngestionJob(ctx context.Context, jobID, documentID string) error
	GetIngestionJob(ctx context.Context, id string) (store.IngestionJob, error)
}

// Publisher enqueues ingestion jobs.
type Publisher interface {
	Publish(ctx context.Context, stream string, envelope streams.Envelope, opts ...streams.PublishOption) (string, error)
}

// UploadHandler accepts documents and enqueues them for ingestion.
type UploadHandler struct {
	Store     DocumentStore
	Publisher Publisher
	Dir       string
	MaxSize   int64
}

// Register mounts document upload and status routes.
func (h *UploadHandler) Register(g *echo.Group) {
	g.POST("/upload", h.upload)
	g.GET("/documents/:id", h.document)
	g.GET("/jobs/:id", h.job)
}

// UploadResponse acknowledges an accepted document.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	JobID      string `json:"job_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
}

func (h *UploadHandler) upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	filename := filepath.Base(fileHeader.Filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return echo.NewHTTPError(http.StatusBadRequest, "filename is required")
	}
	if !extract.Supported(filename) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", filepath.Ext(filename)))
	}
	if h.MaxSize > 0 && fileHeader.Size > h.MaxSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.MaxSize))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	docID := uuid.NewString()
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	path := filepath.Join(h.Dir, docID+"_"+filename)
	dst, err := os.Create(path)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	ctx := c.Request().Context()
	doc := store.Document{
		ID:         docID,
		Filename:   filename,
		Path:       path,
		SizeBytes:  written,
		UploadedAt: time.Now().UTC(),
	}
	if err := h.Store.CreateDocument(ctx, doc); err != nil {
		_ = os.Remove(path)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	jobID := uuid.NewString()
	if err := h.Store.CreateIngestionJob(ctx, jobID, docID); err != nil {
		_ = os.Remove(path)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	env, err := uploadEnvelope(jobID, doc, h.Dir)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := h.Publisher.Publish(ctx, streams.StreamFileUpload, env); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	uploadsTotal.Inc()

	return c.JSON(http.StatusAccepted, UploadResponse{
		DocumentID: docID,
		JobID:      jobID,
		Filename:   filename,
		Status:     store.JobStatusPending,
	})
}

// uploadEnvelope wraps a stored document into the queue message. The event ID
// is the ingestion job ID, so workers can update the right row.
func uploadEnvelope(jobID string, doc store.Document, destination string) (streams.Envelope, error) {
	payload := streams.FileUploadPayload{
		DocumentID:  doc.ID,
		Filename:    doc.Filename,
		Destination: destination,
		Path:        doc.Path,
		SizeBytes:   doc.SizeBytes,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return streams.Envelope{}, err
	}
	return streams.Envelope{
		EventID:        jobID,
		EventType:      streams.EventFileUploaded,
		OccurredAt:     time.Now().UTC(),
		Attempt:        1,
		PayloadVersion: "v1",
		Data:           data,
	}, nil
}

// DocumentResponse describes a stored document.
type DocumentResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func (h *UploadHandler) document(c echo.Context) error {
	doc, err := h.Store.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, DocumentResponse{
		ID:         doc.ID,
		Filename:   doc.Filename,
		SizeBytes:  doc.SizeBytes,
		UploadedAt: doc.UploadedAt,
	})
}

// JobResponse describes ingestion job progress.
type JobResponse struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	ChunkCount int    `json:"chunk_count"`
	Stage      string `json:"stage,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

func (h *UploadHandler) job(c echo.Context) error {
	job, err := h.Store.GetIngestionJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, JobResponse{
		ID:         job.ID,
		DocumentID: job.DocumentID,
		Status:     job.Status,
		Attempts:   job.Attempts,
		ChunkCount: job.ChunkCount,
		Stage:      job.Stage,
		LastError:  job.LastError,
	})
}
