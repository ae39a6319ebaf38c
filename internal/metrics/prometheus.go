package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice notes service
type Metrics struct {
	// UDP frame-feed metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	FramesDropped    prometheus.Counter
	QueueSize        prometheus.Gauge

	// Recording session metrics
	ActiveSessions    prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsFinalized *prometheus.CounterVec
	SessionDuration   prometheus.Histogram

	// Segment flush metrics
	SegmentsFlushed prometheus.Counter
	SegmentDuration prometheus.Histogram
	SegmentSize     prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Summarization metrics
	SummaryRequests prometheus.Counter
	SummaryFailures prometheus.Counter
	SummaryDegraded prometheus.Counter
	SummaryDuration prometheus.Histogram

	// Note store metrics
	NotesWritten     prometheus.Counter
	NoteWriteErrors  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// UDP frame-feed metrics
		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_packets_received_total",
			Help: "Total number of UDP packets received",
		}),
		PacketsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_frames_dropped_total",
			Help: "Total number of audio frames dropped without a matching session",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicenotes_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Recording session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicenotes_active_sessions",
			Help: "Current number of active recording sessions",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicenotes_sessions_finalized_total",
			Help: "Total number of recording sessions finalized",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicenotes_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~3 hours
		}),

		// Segment flush metrics
		SegmentsFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_segments_flushed_total",
			Help: "Total number of speaker segments flushed to transcription",
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicenotes_segment_duration_seconds",
			Help:    "Duration of flushed speaker segments",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~2 minutes
		}),
		SegmentSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicenotes_segment_size_bytes",
			Help:    "Size of flushed speaker segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicenotes_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		// Summarization metrics
		SummaryRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_summary_requests_total",
			Help: "Total number of summarization requests sent",
		}),
		SummaryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_summary_failures_total",
			Help: "Total number of failed summarization requests",
		}),
		SummaryDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_summary_degraded_total",
			Help: "Total number of notes written without a summary",
		}),
		SummaryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicenotes_summary_duration_seconds",
			Help:    "Duration of summarization requests",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8 minutes
		}),

		// Note store metrics
		NotesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_notes_written_total",
			Help: "Total number of notes written to the store",
		}),
		NoteWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicenotes_note_write_errors_total",
			Help: "Total number of note store write failures",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicenotes_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicenotes_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicenotes_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionFinalized increments the finalized counter and records duration
func (m *Metrics) RecordSessionFinalized(reason string, durationSeconds float64) {
	m.SessionsFinalized.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSegmentFlushed records a flushed speaker segment
func (m *Metrics) RecordSegmentFlushed(durationSeconds float64, sizeBytes int) {
	m.SegmentsFlushed.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordSummaryRequest increments the summarization requests counter
func (m *Metrics) RecordSummaryRequest(durationSeconds float64) {
	m.SummaryRequests.Inc()
	m.SummaryDuration.Observe(durationSeconds)
}

// RecordSummaryFailure increments the summarization failures counter
func (m *Metrics) RecordSummaryFailure() {
	m.SummaryFailures.Inc()
}

// RecordSummaryDegraded increments the degraded notes counter
func (m *Metrics) RecordSummaryDegraded() {
	m.SummaryDegraded.Inc()
}

// RecordNoteWritten increments the notes written counter
func (m *Metrics) RecordNoteWritten() {
	m.NotesWritten.Inc()
}

// RecordNoteWriteError increments the note write errors counter
func (m *Metrics) RecordNoteWriteError() {
	m.NoteWriteErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
