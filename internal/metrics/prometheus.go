package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for sinkcast
type Metrics struct {
	registry *prometheus.Registry

	// Stream writer metrics
	BytesWritten     prometheus.Counter
	FramesEncoded    prometheus.Counter
	EncodeFailures   prometheus.Counter
	EmitFailures     prometheus.Counter
	SegmentsWritten  prometheus.Counter
	SegmentDuration  prometheus.Histogram
	EncodedFrameSize prometheus.Histogram

	// Audio device module metrics
	RecordedFramesDelivered prometheus.Counter
	RecordedBytesDropped    prometheus.Counter

	// Sound server metrics
	CallbackBytes  prometheus.Counter
	CallbackErrors prometheus.Counter

	// WebRTC metrics
	ConnectedPeers prometheus.Gauge
	SamplesSent    prometheus.Counter
}

// NewMetrics creates all metrics and registers them on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := newMetrics(registry)
	m.registry = registry
	return m
}

// NewUnregisteredMetrics creates metrics that are never exported.
// Used by components that were not handed a *Metrics.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics(nil)
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		// Stream writer metrics
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_stream_bytes_written_total",
			Help: "Total number of raw PCM bytes fed to the stream writer",
		}),
		FramesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_stream_frames_encoded_total",
			Help: "Total number of fixed size frames handed to the encoder",
		}),
		EncodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_stream_encode_failures_total",
			Help: "Total number of frames the encoder failed to encode",
		}),
		EmitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_stream_emit_failures_total",
			Help: "Total number of encoded frames that could not be written to a segment",
		}),
		SegmentsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_stream_segments_written_total",
			Help: "Total number of completed stream segments",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sinkcast_stream_segment_duration_seconds",
			Help:    "Media duration of completed segments",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 12), // 0.5s to 6s
		}),
		EncodedFrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sinkcast_stream_encoded_frame_size_bytes",
			Help:    "Size of encoded frames",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10), // 16B to 8KB
		}),

		// Audio device module metrics
		RecordedFramesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_adm_recorded_frames_delivered_total",
			Help: "Total number of 10ms frames delivered to the audio transport",
		}),
		RecordedBytesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_adm_recorded_bytes_dropped_total",
			Help: "Total number of bytes written to the device module while not recording",
		}),

		// Sound server metrics
		CallbackBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_soundserver_callback_bytes_total",
			Help: "Total number of bytes captured from the sound server",
		}),
		CallbackErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_soundserver_callback_errors_total",
			Help: "Total number of failed writes of captured audio",
		}),

		// WebRTC metrics
		ConnectedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sinkcast_webrtc_connected_peers",
			Help: "Current number of connected WebRTC peers",
		}),
		SamplesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sinkcast_webrtc_samples_sent_total",
			Help: "Total number of encoded samples written to the WebRTC track",
		}),
	}
}

// Handler serves the registered metrics. Unregistered metrics serve an empty page.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OrUnregistered returns m, or a fresh set of unregistered metrics if m is nil
func OrUnregistered(m *Metrics) *Metrics {
	if m == nil {
		return NewUnregisteredMetrics()
	}
	return m
}
