package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/crashwatch/pkg/types"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesPolled   atomic.Uint64
	FramesAnalyzed atomic.Uint64
	FramesEmpty    atomic.Uint64
	FramesRejected atomic.Uint64
	FramesSkipped  atomic.Uint64 // detector had nothing new

	// Crash heuristic
	CrashFrames atomic.Uint64
	CrashEvents atomic.Uint64
	ObjectsSeen atomic.Uint64

	// Error counters
	DetectorErrors atomic.Uint64
	LogErrors      atomic.Uint64

	// Latency and last-frame gauges
	AnalysisLatencyUs atomic.Uint64
	LastConfidenceAvg atomic.Uint64 // math.Float64bits
	LastCrashUnix     atomic.Int64

	// Monitor clients
	StatusClients    atomic.Int64
	DetectionClients atomic.Int64
	StreamClients    atomic.Int64

	iouHistogram prometheus.Histogram
	registry     *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		iouHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crashwatch_crash_event_iou",
			Help:    "IoU of flagged cross-class overlaps",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

type gauge struct {
	name, help string
	value      func() float64
}

func (m *Metrics) registerPrometheusMetrics() {
	u := func(v *atomic.Uint64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}
	i := func(v *atomic.Int64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}

	gauges := []gauge{
		{"crashwatch_frames_polled_total", "Total detector polls", u(&m.FramesPolled)},
		{"crashwatch_frames_analyzed_total", "Total frames analyzed with at least one detection", u(&m.FramesAnalyzed)},
		{"crashwatch_frames_empty_total", "Total frames with no detections", u(&m.FramesEmpty)},
		{"crashwatch_frames_rejected_total", "Total frames rejected as malformed", u(&m.FramesRejected)},
		{"crashwatch_frames_skipped_total", "Total polls where the detector had no new frame", u(&m.FramesSkipped)},
		{"crashwatch_crash_frames_total", "Total frames flagged as potential crash", u(&m.CrashFrames)},
		{"crashwatch_crash_events_total", "Total crash events", u(&m.CrashEvents)},
		{"crashwatch_objects_detected_total", "Total objects across analyzed frames", u(&m.ObjectsSeen)},
		{"crashwatch_detector_errors_total", "Total detector feed errors", u(&m.DetectorErrors)},
		{"crashwatch_log_errors_total", "Total detection log write errors", u(&m.LogErrors)},
		{"crashwatch_analysis_latency_us", "Latency of the last frame analysis in microseconds", u(&m.AnalysisLatencyUs)},
		{"crashwatch_confidence_avg", "Mean confidence of the last analyzed frame", func() float64 {
			return math.Float64frombits(m.LastConfidenceAvg.Load())
		}},
		{"crashwatch_last_crash_timestamp_seconds", "Unix time of the most recent crash-flagged frame", i(&m.LastCrashUnix)},
		{"crashwatch_status_clients", "Connected status stream clients", i(&m.StatusClients)},
		{"crashwatch_detection_clients", "Connected detection stream clients", i(&m.DetectionClients)},
		{"crashwatch_mjpeg_clients", "Connected MJPEG clients", i(&m.StreamClients)},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.value,
		))
	}
	m.registry.MustRegister(m.iouHistogram)
}

// ObserveSummary records one analyzed frame
func (m *Metrics) ObserveSummary(summary types.FrameSummary, took time.Duration) {
	m.AnalysisLatencyUs.Store(uint64(took.Microseconds()))
	if summary.ObjectsDetected == 0 {
		m.FramesEmpty.Add(1)
		return
	}

	m.FramesAnalyzed.Add(1)
	m.ObjectsSeen.Add(uint64(summary.ObjectsDetected))
	m.LastConfidenceAvg.Store(math.Float64bits(summary.ConfidenceAvg))

	if summary.PotentialCrash {
		m.CrashFrames.Add(1)
		m.CrashEvents.Add(uint64(len(summary.CrashEvents)))
		m.LastCrashUnix.Store(summary.Timestamp.Unix())
		for _, e := range summary.CrashEvents {
			m.iouHistogram.Observe(e.IoU)
		}
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
