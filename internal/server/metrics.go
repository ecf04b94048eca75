package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docqa_uploads_total",
		Help: "Documents accepted for ingestion.",
	})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_queries_total",
		Help: "Questions answered, labeled batch or stream.",
	}, []string{"mode"})

	sweptDocumentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docqa_swept_documents_total",
		Help: "Documents removed by the retention sweeper.",
	})
)
