package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/skarimi/docqa/internal/queue/streams"
)

// JobStore records lifecycle transitions of ingestion jobs. Jobs are keyed by
// the envelope event ID, which equals the ingestion_jobs row ID.
type JobStore interface {
	MarkJobProcessing(ctx context.Context, jobID string, attempt int) error
	MarkJobSucceeded(ctx context.Context, jobID string, chunkCount int) error
	MarkJobFailed(ctx context.Context, jobID, stage, lastError string) error
}

// StreamConsumer is the consuming side of the queue as the processor uses it.
type StreamConsumer interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// StreamPublisher is the publishing side, used for retries and dead letters.
type StreamPublisher interface {
	Publish(ctx context.Context, stream string, envelope streams.Envelope, opts ...streams.PublishOption) (string, error)
}

// ProcessorConfig tunes the consumer loop.
type ProcessorConfig struct {
	Stream      string
	DeadStream  string
	Concurrency int
	MaxAttempts int
	// ClaimMinIdle is how long a pending message must sit unacked before it
	// is reclaimed from a dead consumer. ClaimInterval is how often the
	// reclaim loop runs.
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
}

func (c *ProcessorConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = streams.StreamFileUpload
	}
	if c.DeadStream == "" {
		c.DeadStream = streams.StreamFileUploadDead
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = time.Minute
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 30 * time.Second
	}
}

// Processor drives the ingestion worker: it reads upload events from the
// stream, runs the pipeline with bounded concurrency, records job state, and
// decides between retry and dead-letter on failure. Every delivered message is
// acked exactly once; retries are fresh messages, not redeliveries.
type Processor struct {
	consumer  StreamConsumer
	publisher StreamPublisher
	pipeline  *Pipeline
	jobs      JobStore
	cfg       ProcessorConfig
	logger    *log.Logger
}

// NewProcessor wires a Processor from its collaborators.
func NewProcessor(consumer StreamConsumer, publisher StreamPublisher, pipeline *Pipeline, jobs JobStore, cfg ProcessorConfig, logger *log.Logger) *Processor {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Processor{
		consumer:  consumer,
		publisher: publisher,
		pipeline:  pipeline,
		jobs:      jobs,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks consuming the stream until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	go p.reclaimLoop(ctx)

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}

		msgs, err := p.consumer.Read(ctx, p.cfg.Stream,
			streams.WithBlock(5*time.Second),
			streams.WithCount(int64(p.cfg.Concurrency)),
		)
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return ctx.Err()
			}
			p.logger.Printf("read %s: %v", p.cfg.Stream, err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			sem <- struct{}{}
			wg.Add(1)
			go func(msg streams.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				p.Handle(ctx, msg)
			}(msg)
		}
	}
}

// reclaimLoop periodically claims messages stuck pending on dead consumers
// and pushes them through the same handling path.
func (p *Processor) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		start := "0-0"
		for {
			msgs, next, err := p.consumer.AutoClaim(ctx, p.cfg.Stream, p.cfg.ClaimMinIdle, start, int64(p.cfg.Concurrency))
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Printf("autoclaim %s: %v", p.cfg.Stream, err)
				}
				break
			}
			for _, msg := range msgs {
				p.Handle(ctx, msg)
			}
			if next == "0-0" || len(msgs) == 0 {
				break
			}
			start = next
		}
	}
}

// Handle processes one delivered message end to end and acks it. Exported so
// tests can drive a processor without a live stream loop.
func (p *Processor) Handle(ctx context.Context, msg streams.Message) {
	env := msg.Envelope
	defer func() {
		if err := p.consumer.Ack(ctx, p.cfg.Stream, msg.ID); err != nil {
			p.logger.Printf("ack %s: %v", msg.ID, err)
		}
	}()

	if env.EventType != streams.EventFileUploaded {
		p.logger.Printf("dropping unexpected event type %q (event %s)", env.EventType, env.EventID)
		return
	}

	var payload streams.FileUploadPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		p.logger.Printf("event %s: undecodable payload: %v", env.EventID, err)
		p.deadLetter(ctx, env, "decode", err)
		return
	}

	attempt := env.Attempt
	if attempt < 1 {
		attempt = 1
	}
	if err := p.jobs.MarkJobProcessing(ctx, env.EventID, attempt); err != nil {
		p.logger.Printf("job %s: mark processing: %v", env.EventID, err)
	}

	started := time.Now()
	count, err := p.pipeline.Process(ctx, payload)
	jobDuration.Observe(time.Since(started).Seconds())
	if err == nil {
		if serr := p.jobs.MarkJobSucceeded(ctx, env.EventID, count); serr != nil {
			p.logger.Printf("job %s: mark succeeded: %v", env.EventID, serr)
		}
		jobsTotal.WithLabelValues("succeeded").Inc()
		chunksIndexedTotal.Add(float64(count))
		p.logger.Printf("job %s: indexed %d chunks from %s (attempt %d)", env.EventID, count, payload.Filename, attempt)
		return
	}

	stage := "pipeline"
	permanent := false
	var serr *StageError
	if errors.As(err, &serr) {
		stage = serr.Stage
		permanent = serr.Permanent()
	}

	if permanent || attempt >= p.cfg.MaxAttempts {
		p.logger.Printf("job %s: failed at %s after attempt %d/%d: %v", env.EventID, stage, attempt, p.cfg.MaxAttempts, err)
		if ferr := p.jobs.MarkJobFailed(ctx, env.EventID, stage, err.Error()); ferr != nil {
			p.logger.Printf("job %s: mark failed: %v", env.EventID, ferr)
		}
		p.deadLetter(ctx, env, stage, err)
		jobsTotal.WithLabelValues("failed").Inc()
		return
	}

	// Transient failure with attempts left: re-publish the same logical job
	// with the attempt counter bumped.
	retry := env
	retry.Attempt = attempt + 1
	retry.OccurredAt = time.Now().UTC()
	if _, perr := p.publisher.Publish(ctx, p.cfg.Stream, retry); perr != nil {
		p.logger.Printf("job %s: republish for retry: %v", env.EventID, perr)
		if ferr := p.jobs.MarkJobFailed(ctx, env.EventID, stage, err.Error()); ferr != nil {
			p.logger.Printf("job %s: mark failed: %v", env.EventID, ferr)
		}
		jobsTotal.WithLabelValues("failed").Inc()
		return
	}
	jobRetriesTotal.Inc()
	p.logger.Printf("job %s: %s failed on attempt %d/%d, retrying: %v", env.EventID, stage, attempt, p.cfg.MaxAttempts, err)
}

func (p *Processor) deadLetter(ctx context.Context, env streams.Envelope, stage string, cause error) {
	dead := env
	dead.OccurredAt = time.Now().UTC()
	if _, err := p.publisher.Publish(ctx, p.cfg.DeadStream, dead); err != nil {
		p.logger.Printf("event %s: dead-letter publish (%s: %v): %v", env.EventID, stage, cause, err)
	}
}
