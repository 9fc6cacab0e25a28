package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aegis"

var (
	// SourceQueries counts metrics backend queries by adapter, query type
	// (instant or range) and result.
	SourceQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "queries_total",
			Help:      "Total number of metrics backend queries",
		},
		[]string{"adapter", "type", "result"},
	)

	SourceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "query_duration_seconds",
			Help:      "Metrics backend query duration distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"adapter", "type"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Query cache lookups by result",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	ObjectivesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "objectives_active",
			Help:      "Number of active objectives",
		},
	)

	Reloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reloader",
			Name:      "reloads_total",
			Help:      "Objective directory reloads by result",
		},
		[]string{"result"},
	)
)
