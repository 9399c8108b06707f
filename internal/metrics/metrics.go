package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mode label values.
const (
	ModeImport = "import"
	ModeTail   = "tail"
)

var (
	// Line metrics
	LinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homehawk_lines_total",
			Help: "Total number of event lines read, by outcome",
		},
		[]string{"mode", "result"},
	)

	UnknownEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "homehawk_unknown_events_total",
			Help: "Total number of events with an unrecognised type tag",
		},
	)

	// Storage metrics
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homehawk_documents_total",
			Help: "Total number of documents submitted to the store, by outcome",
		},
		[]string{"mode", "result"},
	)

	BulkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "homehawk_bulk_duration_seconds",
			Help:    "Duration of per-file bulk upserts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tail metrics
	TailQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "homehawk_tail_queue_depth",
			Help: "Current number of documents waiting for an upsert worker",
		},
	)
)
