package server

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/skarimi/docqa/internal/store"
)

// SweepStore lists and removes expired documents.
type SweepStore interface {
	ListExpiredDocuments(ctx context.Context, cutoff time.Time) ([]store.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// IndexCleaner removes a document's points from the vector index.
type IndexCleaner interface {
	DeleteByDocument(ctx context.Context, collection, documentID string) error
}

// Sweeper enforces upload retention: on each scheduled run it removes
// documents older than TTL from disk, the bookkeeping store, and the vector
// index. A zero TTL disables sweeping.
type Sweeper struct {
	Store      SweepStore
	Index      IndexCleaner
	Collection string
	TTL        time.Duration
	Schedule   string
	Logger     *log.Logger
}

// Run blocks sweeping on the cron schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SWEEP] ", log.LstdFlags)
	}
	if s.TTL <= 0 {
		s.Logger.Printf("retention disabled")
		return
	}
	expr, err := cronexpr.Parse(s.Schedule)
	if err != nil {
		s.Logger.Printf("invalid schedule %q, falling back to hourly: %v", s.Schedule, err)
		expr = cronexpr.MustParse("0 * * * *")
	}
	for {
		next := expr.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		if n, err := s.Sweep(ctx); err != nil {
			s.Logger.Printf("sweep: %v", err)
		} else if n > 0 {
			s.Logger.Printf("swept %d expired documents", n)
		}
	}
}

// Sweep removes all documents past retention and returns how many went away.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.TTL)
	docs, err := s.Store.ListExpiredDocuments(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, doc := range docs {
		if s.Index != nil {
			if err := s.Index.DeleteByDocument(ctx, s.Collection, doc.ID); err != nil {
				s.Logger.Printf("document %s: index cleanup: %v", doc.ID, err)
				continue
			}
		}
		if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
			s.Logger.Printf("document %s: remove %s: %v", doc.ID, doc.Path, err)
		}
		if err := s.Store.DeleteDocument(ctx, doc.ID); err != nil {
			s.Logger.Printf("document %s: delete row: %v", doc.ID, err)
			continue
		}
		sweptDocumentsTotal.Inc()
		swept++
	}
	return swept, nil
}
