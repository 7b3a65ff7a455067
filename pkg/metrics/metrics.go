// Package metrics declares the process-wide Prometheus collectors shared by
// the framing, index, resolver and transport packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imclog_frames_total",
		Help: "Total number of valid frames extracted from byte streams.",
	}, []string{"source"})

	FrameResyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imclog_frame_resyncs_total",
		Help: "Total number of times a framer dropped a byte to resynchronise.",
	}, []string{"source"})

	BytesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imclog_bytes_discarded_total",
		Help: "Total number of stream bytes skipped while seeking a sync number.",
	}, []string{"source"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imclog_decode_errors_total",
		Help: "Total number of frames that failed to decode, by error kind.",
	}, []string{"source", "kind"})

	IndexBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imclog_index_builds_total",
		Help: "Total number of log index builds, by how the index was obtained.",
	}, []string{"mode"})

	IndexBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "imclog_index_build_duration_seconds",
		Help:    "Duration of log index builds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	IndexedMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "imclog_indexed_messages",
		Help: "Number of messages held by open log indexes.",
	})

	NameCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imclog_name_collisions_total",
		Help: "Total number of system or entity names rebound to a different id.",
	})

	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imclog_packets_received_total",
		Help: "Total number of datagrams or capture packets received.",
	}, []string{"transport"})

	PeersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "imclog_peers_active",
		Help: "Number of remote peers with a live framer.",
	})
)
