package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection manager
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_connections_active",
			Help: "Current number of registered stream connections",
		},
	)

	ConnectionsAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_connections_admitted_total",
			Help: "Total number of stream admissions",
		},
		[]string{"result"}, // "admitted", "replaced", "rejected"
	)

	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_connections_closed_total",
			Help: "Total number of stream connections torn down",
		},
		[]string{"reason"}, // "released", "forced", "replaced", "send_failed", "shutdown"
	)

	LivenessProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_liveness_probes_total",
			Help: "Liveness probes sent after receive idle timeouts",
		},
		[]string{"result"}, // "sent", "failed", "terminated"
	)

	// Ingestion
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_frames_received_total",
			Help: "Inbound frame payloads by outcome",
		},
		[]string{"outcome"}, // "processed", "rejected", "paused"
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proctor_detection_duration_seconds",
			Help:    "Time spent running all detectors for one frame",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	DetectorFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_detector_faults_total",
			Help: "Detector calls that returned an error or panicked",
		},
		[]string{"detector"},
	)

	EventsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_events_detected_total",
			Help: "Total number of events produced by detectors",
		},
	)

	// Log writer
	LogWriteAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_log_write_attempts_total",
			Help: "Append attempts issued against the log store",
		},
	)

	LogBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_log_batches_total",
			Help: "Event batches by persistence outcome",
		},
		[]string{"outcome"}, // "stored", "lost"
	)

	// Sessions
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_session_transitions_total",
			Help: "Session state transitions",
		},
		[]string{"to"},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_publish_failures_total",
			Help: "Stored event batches that could not be published to NATS",
		},
	)
)
