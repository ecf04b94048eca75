package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Ingestion job statuses.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the Postgres connection holding document and ingestion job
// bookkeeping. The vector index holds the derived knowledge; this store only
// tracks uploads and job lifecycle state.
type Store struct {
	DB *sql.DB
}

// Document is one uploaded file. Rows are created on upload, never updated,
// and removed by the retention sweep.
type Document struct {
	ID         string
	Filename   string
	Path       string
	SizeBytes  int64
	UploadedAt time.Time
}

// IngestionJob tracks the lifecycle of one document's ingestion.
type IngestionJob struct {
	ID         string
	DocumentID string
	Status     string
	Attempts   int
	ChunkCount int
	Stage      string
	LastError  string
	EnqueuedAt time.Time
	UpdatedAt  time.Time
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// CreateDocument inserts a document row.
func (s *Store) CreateDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id required")
	}
	// A zero upload time would predate any retention cutoff and get the
	// document swept immediately.
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO documents (id, filename, path, size_bytes, uploaded_at)
VALUES ($1,$2,$3,$4,$5);
`, doc.ID, doc.Filename, doc.Path, doc.SizeBytes, doc.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument fetches one document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.DB.QueryRowContext(ctx, `
SELECT id, filename, path, size_bytes, uploaded_at FROM documents WHERE id = $1;
`, id).Scan(&doc.ID, &doc.Filename, &doc.Path, &doc.SizeBytes, &doc.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("select document: %w", err)
	}
	return doc, nil
}

// CreateIngestionJob inserts a pending job row for the document.
func (s *Store) CreateIngestionJob(ctx context.Context, jobID, documentID string) error {
	if jobID == "" || documentID == "" {
		return fmt.Errorf("job id and document id required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO ingestion_jobs (id, document_id, status, attempts, enqueued_at, updated_at)
VALUES ($1,$2,$3,0,NOW(),NOW());
`, jobID, documentID, JobStatusPending)
	if err != nil {
		return fmt.Errorf("insert ingestion job: %w", err)
	}
	return nil
}

// GetIngestionJob fetches one job by id.
func (s *Store) GetIngestionJob(ctx context.Context, id string) (IngestionJob, error) {
	var job IngestionJob
	err := s.DB.QueryRowContext(ctx, `
SELECT id, document_id, status, attempts, chunk_count, stage, last_error, enqueued_at, updated_at
FROM ingestion_jobs WHERE id = $1;
`, id).Scan(&job.ID, &job.DocumentID, &job.Status, &job.Attempts, &job.ChunkCount, &job.Stage, &job.LastError, &job.EnqueuedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return IngestionJob{}, ErrNotFound
	}
	if err != nil {
		return IngestionJob{}, fmt.Errorf("select ingestion job: %w", err)
	}
	return job, nil
}

// MarkJobProcessing records that a worker claimed the job on the given
// delivery attempt.
func (s *Store) MarkJobProcessing(ctx context.Context, jobID string, attempt int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE ingestion_jobs SET status = $2, attempts = $3, updated_at = NOW() WHERE id = $1;
`, jobID, JobStatusProcessing, attempt)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	return nil
}

// MarkJobSucceeded finalises the job with the number of chunks indexed.
func (s *Store) MarkJobSucceeded(ctx context.Context, jobID string, chunkCount int) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE ingestion_jobs SET status = $2, chunk_count = $3, stage = '', last_error = '', updated_at = NOW() WHERE id = $1;
`, jobID, JobStatusSucceeded, chunkCount)
	if err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	return nil
}

// MarkJobFailed finalises the job with the failing stage and error message.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, stage, lastError string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE ingestion_jobs SET status = $2, stage = $3, last_error = $4, updated_at = NOW() WHERE id = $1;
`, jobID, JobStatusFailed, stage, lastError)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// ListExpiredDocuments returns documents uploaded before the cutoff, oldest
// first, for the retention sweep.
func (s *Store) ListExpiredDocuments(ctx context.Context, cutoff time.Time) ([]Document, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, filename, path, size_bytes, uploaded_at FROM documents
WHERE uploaded_at < $1 ORDER BY uploaded_at ASC;
`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired documents: %w", err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Path, &doc.SizeBytes, &doc.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document row and its jobs.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
