package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/skarimi/docqa/internal/provider"
	"github.com/skarimi/docqa/internal/vector"
)

// ErrEmptyQuery is returned when the query is empty or whitespace.
var ErrEmptyQuery = errors.New("query must not be empty")

// NoAnswer is returned verbatim when retrieval finds nothing relevant. The
// engine never calls the completion model in that case.
const NoAnswer = "I cannot find this information in the provided documents."

const previewRunes = 200

// Searcher is the retrieval capability the engine needs.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int, withPayload bool) ([]vector.ScoredPoint, error)
}

// Source identifies one retrieved chunk that grounded an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Filename   string  `json:"filename"`
	Score      float32 `json:"score"`
	Preview    string  `json:"preview"`
}

// Answer is a complete grounded response.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// StreamResult carries the retrieval sources along with the token stream.
// Sources are known before generation starts, so callers can emit them first.
type StreamResult struct {
	Sources []Source
	Events  <-chan provider.StreamEvent
}

// Config tunes the engine.
type Config struct {
	Collection  string
	TopK        int
	Temperature float64
	MaxTokens   int
}

// Engine answers questions over the indexed corpus: embed the query, fetch
// the top matches, and generate strictly from the retrieved context.
type Engine struct {
	provider provider.Provider
	searcher Searcher
	cfg      Config
	logger   *log.Logger
}

// New wires a query engine.
func New(p provider.Provider, searcher Searcher, cfg Config, logger *log.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	}
	return &Engine{provider: p, searcher: searcher, cfg: cfg, logger: logger}
}

// retrieve embeds the query and returns the ranked hits.
func (e *Engine) retrieve(ctx context.Context, query string) ([]vector.ScoredPoint, error) {
	vecs, err := e.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}
	hits, err := e.searcher.Search(ctx, e.cfg.Collection, vecs[0], e.cfg.TopK, true)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return hits, nil
}

// Ask answers a question in one shot.
func (e *Engine) Ask(ctx context.Context, query string) (Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, ErrEmptyQuery
	}

	hits, err := e.retrieve(ctx, query)
	if err != nil {
		return Answer{}, err
	}
	if len(hits) == 0 {
		return Answer{Answer: NoAnswer, Sources: []Source{}}, nil
	}

	answer, err := e.provider.Complete(ctx, systemPrompt, buildUserPrompt(hits, query), provider.CompleteOptions{
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("complete: %w", err)
	}
	return Answer{Answer: answer, Sources: sourcesOf(hits)}, nil
}

// AskStream answers a question with a token stream. Retrieval happens up
// front, so the returned sources are complete before the first token.
func (e *Engine) AskStream(ctx context.Context, query string) (StreamResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return StreamResult{}, ErrEmptyQuery
	}

	hits, err := e.retrieve(ctx, query)
	if err != nil {
		return StreamResult{}, err
	}
	if len(hits) == 0 {
		events := make(chan provider.StreamEvent, 2)
		events <- provider.StreamEvent{Content: NoAnswer}
		events <- provider.StreamEvent{Done: true}
		close(events)
		return StreamResult{Sources: []Source{}, Events: events}, nil
	}

	events, err := e.provider.CompleteStream(ctx, systemPrompt, buildUserPrompt(hits, query), provider.CompleteOptions{
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return StreamResult{}, fmt.Errorf("complete stream: %w", err)
	}
	return StreamResult{Sources: sourcesOf(hits), Events: events}, nil
}

func sourcesOf(hits []vector.ScoredPoint) []Source {
	out := make([]Source, len(hits))
	for i, hit := range hits {
		out[i] = Source{
			DocumentID: hit.Payload.DocumentID,
			ChunkIndex: hit.Payload.ChunkIndex,
			Filename:   hit.Payload.Source,
			Score:      hit.Score,
			Preview:    preview(hit.Payload.Text),
		}
	}
	return out
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes])
}
