package ingest

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/skarimi/docqa/config"
	"github.com/skarimi/docqa/internal/chunk"
	"github.com/skarimi/docqa/internal/provider/openai"
	"github.com/skarimi/docqa/internal/queue/streams"
	"github.com/skarimi/docqa/internal/store"
	"github.com/skarimi/docqa/internal/vector"
)

// Run wires the ingestion worker from config and blocks consuming the upload
// stream until ctx is cancelled.
func Run(ctx context.Context, cfg *appconfig.Config) error {
	logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer func() { _ = st.Close() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}
	defer func() { _ = rdb.Close() }()

	if err := streams.EnsureGroup(ctx, rdb, streams.StreamFileUpload, cfg.Ingest.Group); err != nil {
		return err
	}

	llm, err := openai.New(openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		EmbeddingModel:  cfg.OpenAI.EmbeddingModel,
		CompletionModel: cfg.OpenAI.CompletionModel,
		Timeout:         cfg.OpenAI.Timeout,
	})
	if err != nil {
		return err
	}

	index, err := vector.NewClient(vector.Config{
		URL:     cfg.Qdrant.URL,
		APIKey:  cfg.Qdrant.APIKey,
		Timeout: cfg.Qdrant.Timeout,
	})
	if err != nil {
		return err
	}

	chunker, err := chunk.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return err
	}

	pipeline := NewPipeline(llm, index, chunker, PipelineConfig{
		Collection: cfg.Qdrant.Collection,
		Dimension:  cfg.Qdrant.Dimension,
		Distance:   cfg.Qdrant.Distance,
	}, logger)

	consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	consumer := streams.NewConsumer(rdb, cfg.Ingest.Group, consumerName)
	publisher := streams.NewPublisher(rdb)

	processor := NewProcessor(consumer, publisher, pipeline, st, ProcessorConfig{
		Concurrency: cfg.Ingest.Concurrency,
		MaxAttempts: cfg.Ingest.MaxAttempts,
	}, logger)

	logger.Printf("consuming %s as %s (group %s, concurrency %d)",
		streams.StreamFileUpload, consumerName, cfg.Ingest.Group, cfg.Ingest.Concurrency)
	return processor.Run(ctx)
}
