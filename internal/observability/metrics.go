package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceroll",
		Name:      "frames_processed_total",
		Help:      "Total number of camera frames processed",
	}, []string{"mode"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceroll",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"mode"})

	FacesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceroll",
		Name:      "faces_matched_total",
		Help:      "Total number of probes matched to an enrolled identity",
	}, []string{"mode"})

	AttendanceMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceroll",
		Name:      "attendance_marked_total",
		Help:      "Total number of attendance rows inserted",
	}, []string{"status"})

	AttendanceDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceroll",
		Name:      "attendance_duplicates_total",
		Help:      "Attendance attempts rejected because the person was already marked today",
	})

	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceroll",
		Name:      "ledger_write_failures_total",
		Help:      "Attendance store writes that failed and were dropped",
	})

	EncodingsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceroll",
		Name:      "encodings_loaded",
		Help:      "Number of enrolled face encodings currently loaded",
	})

	EncodingsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceroll",
		Name:      "encodings_skipped_total",
		Help:      "Encoding files skipped as corrupt or structurally invalid",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceroll",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceroll",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceroll",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceroll",
		Name:      "active_capture_sessions",
		Help:      "Number of currently running camera sessions",
	})
)
