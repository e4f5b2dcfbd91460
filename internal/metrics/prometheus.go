package metrics

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botblocks_chat_requests_total",
		Help: "Chat requests by route and outcome",
	}, []string{"route", "outcome"})

	ConfidenceScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botblocks_answer_confidence",
		Help:    "Self-reported confidence of released answers",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	RetrievalDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "botblocks_retrieval_depth",
		Help:    "Candidate count requested from the vector store per question",
		Buckets: []float64{5, 6, 7, 8, 9, 10},
	})

	GapsLogged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botblocks_gaps_logged_total",
		Help: "Knowledge gaps written to the audit log",
	})

	InsightRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botblocks_insight_refreshes_total",
		Help: "Gap clustering runs that produced a new cached summary",
	})

	ChunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botblocks_chunks_ingested_total",
		Help: "Chunks embedded and upserted into the vector store",
	})
)

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
