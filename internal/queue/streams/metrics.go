package streams

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_stream_messages_published_total",
		Help: "Messages appended to Redis streams.",
	}, []string{"stream"})

	consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_stream_messages_consumed_total",
		Help: "Messages successfully decoded from Redis streams.",
	}, []string{"stream"})

	reclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_stream_messages_reclaimed_total",
		Help: "Pending messages reclaimed from dead consumers.",
	}, []string{"stream"})
)
