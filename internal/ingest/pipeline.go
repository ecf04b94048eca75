package ingest

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/skarimi/docqa/internal/chunk"
	"github.com/skarimi/docqa/internal/extract"
	"github.com/skarimi/docqa/internal/queue/streams"
	"github.com/skarimi/docqa/internal/vector"
)

// Pipeline stages, used for failure attribution.
const (
	StageRead    = "read"
	StageExtract = "extract"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageIndex   = "index"
)

// StageError attributes a pipeline failure to the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the job can possibly succeed. Unreadable
// files and extraction failures are permanent: the bytes will not change.
// Embedding and index failures are provider/network trouble and may clear.
func (e *StageError) Permanent() bool {
	return e.Stage == StageRead || e.Stage == StageExtract || e.Stage == StageChunk
}

// Embedder is the embedding capability the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector index capability the pipeline needs.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dimension int, distance string) error
	Upsert(ctx context.Context, collection string, points []vector.Point, wait bool) error
}

// PipelineConfig carries the indexing parameters.
type PipelineConfig struct {
	Collection string
	Dimension  int
	Distance   string
}

// Pipeline turns one claimed ingestion job into indexed chunk vectors:
// read file, extract text, chunk, embed the whole batch, ensure the
// collection, upsert with wait-for-durability.
type Pipeline struct {
	embedder Embedder
	index    Index
	chunker  *chunk.Chunker
	cfg      PipelineConfig
	logger   *log.Logger
}

// NewPipeline wires the ingestion pipeline.
func NewPipeline(embedder Embedder, index Index, chunker *chunk.Chunker, cfg PipelineConfig, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Pipeline{embedder: embedder, index: index, chunker: chunker, cfg: cfg, logger: logger}
}

// Process runs the full pipeline for one job and returns the number of
// chunks indexed. Failures carry stage attribution via *StageError. The
// index is only mutated after the entire batch embedded successfully, so a
// failed job leaves no partial points behind.
func (p *Pipeline) Process(ctx context.Context, payload streams.FileUploadPayload) (int, error) {
	data, err := os.ReadFile(payload.Path)
	if err != nil {
		return 0, &StageError{Stage: StageRead, Err: err}
	}

	text, err := extract.Text(payload.Filename, data)
	if err != nil {
		return 0, &StageError{Stage: StageExtract, Err: err}
	}

	chunks := p.chunker.Split(payload.DocumentID, text)
	if len(chunks) == 0 {
		// An empty document indexes nothing; that is success, not failure.
		p.logger.Printf("document %s produced no chunks", payload.DocumentID)
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, &StageError{Stage: StageEmbed, Err: err}
	}
	if len(vectors) != len(chunks) {
		return 0, &StageError{Stage: StageEmbed, Err: fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vectors))}
	}
	for i, vec := range vectors {
		if len(vec) != p.cfg.Dimension {
			return 0, &StageError{Stage: StageEmbed, Err: fmt.Errorf("vector %d has dimension %d, collection wants %d", i, len(vec), p.cfg.Dimension)}
		}
	}

	if err := p.index.EnsureCollection(ctx, p.cfg.Collection, p.cfg.Dimension, p.cfg.Distance); err != nil {
		return 0, &StageError{Stage: StageIndex, Err: err}
	}

	points := make([]vector.Point, len(chunks))
	for i, ch := range chunks {
		points[i] = vector.Point{
			ID:     vector.PointID(ch.DocumentID, ch.Index),
			Vector: vectors[i],
			Payload: vector.Payload{
				DocumentID: ch.DocumentID,
				ChunkIndex: ch.Index,
				Text:       ch.Text,
				Source:     payload.Filename,
			},
		}
	}
	if err := p.index.Upsert(ctx, p.cfg.Collection, points, true); err != nil {
		return 0, &StageError{Stage: StageIndex, Err: err}
	}
	return len(chunks), nil
}
