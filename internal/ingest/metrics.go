package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_ingest_jobs_total",
		Help: "Ingestion jobs processed, labeled by terminal result.",
	}, []string{"result"})

	jobRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docqa_ingest_job_retries_total",
		Help: "Ingestion job deliveries re-published for retry.",
	})

	chunksIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docqa_ingest_chunks_indexed_total",
		Help: "Chunks embedded and upserted into the vector index.",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docqa_ingest_job_duration_seconds",
		Help:    "Wall-clock duration of ingestion pipeline runs.",
		Buckets: prometheus.DefBuckets,
	})
)
