// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "movestream"

var (
	ChunksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Stream chunks received, by outcome",
		},
		[]string{"outcome"}, // transcoded, empty, malformed, transcode_failed
	)

	SegmentsTranscoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_transcoded_total",
			Help:      "Segments written into columnar buffers",
		},
	)

	BytesTransferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_bytes_transferred_total",
			Help:      "Bytes of columnar buffers handed from the ingestion worker to the controller",
		},
	)

	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Time to decode and transcode one chunk",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Time to fold one chunk into the cumulative buffer",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	LayerRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layer_rebuilds_total",
			Help:      "Layer set rebuilds, by mode category",
		},
		[]string{"category"},
	)

	CumulativeSegments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cumulative_segments",
			Help:      "Segments held by the current session",
		},
	)

	StreamState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "1 for the overlay's current state, 0 otherwise",
		},
		[]string{"state"},
	)

	StaleMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_messages_total",
			Help:      "Messages discarded because they belonged to an earlier session",
		},
	)
)

// RecordChunk counts a chunk outcome and, for transcoded chunks, its segments and bytes.
func RecordChunk(outcome string, segments, bytes int, d time.Duration) {
	ChunksReceived.WithLabelValues(outcome).Inc()
	if outcome != OutcomeTranscoded {
		return
	}
	SegmentsTranscoded.Add(float64(segments))
	BytesTransferred.Add(float64(bytes))
	TranscodeDuration.Observe(d.Seconds())
}

// Chunk outcomes.
const (
	OutcomeTranscoded      = "transcoded"
	OutcomeEmpty           = "empty"
	OutcomeMalformed       = "malformed"
	OutcomeTranscodeFailed = "transcode_failed"
)

// SetState marks state as the only active one among states.
func SetState(state string, states ...string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		StreamState.WithLabelValues(s).Set(v)
	}
}
