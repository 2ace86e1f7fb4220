package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame slot counters
	FramesPublished atomic.Uint64
	FramesRejected  atomic.Uint64
	BufferResizes   atomic.Uint64
	SnapshotsOK     atomic.Uint64
	SnapshotsEmpty  atomic.Uint64
	FrameWidth      atomic.Uint64
	FrameHeight     atomic.Uint64

	// Scan worker counters
	ScanCycles       atomic.Uint64
	ScanRetries      atomic.Uint64
	ScanOverruns     atomic.Uint64
	ResultsDecoded   atomic.Uint64
	ResultsNew       atomic.Uint64
	ResultsDuplicate atomic.Uint64
	DecodeErrors     atomic.Uint64
	DecodeLatencyMs  atomic.Uint64 // Last decode duration in ms

	// Display counters
	RenderedFrames atomic.Uint64
	RenderErrors   atomic.Uint64
	ActiveClients  atomic.Int64

	decodeHist prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decodeHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrscan_decode_duration_seconds",
			Help:    "Barcode recognition time per scan cycle",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .3, .5, 1},
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.decodeHist)

	// Frame slot
	m.gauge("qrscan_frames_published_total", "Frames published into the slot",
		func() float64 { return float64(m.FramesPublished.Load()) })
	m.gauge("qrscan_frames_rejected_total", "Frames rejected by the ingestor",
		func() float64 { return float64(m.FramesRejected.Load()) })
	m.gauge("qrscan_buffer_resizes_total", "Slot buffer size changes",
		func() float64 { return float64(m.BufferResizes.Load()) })
	m.gauge("qrscan_snapshots_total", "Successful slot snapshots",
		func() float64 { return float64(m.SnapshotsOK.Load()) })
	m.gauge("qrscan_snapshots_not_ready_total", "Snapshots refused because the frame was not consistent",
		func() float64 { return float64(m.SnapshotsEmpty.Load()) })
	m.gauge("qrscan_frame_width_pixels", "Width of the last published frame",
		func() float64 { return float64(m.FrameWidth.Load()) })
	m.gauge("qrscan_frame_height_pixels", "Height of the last published frame",
		func() float64 { return float64(m.FrameHeight.Load()) })

	// Scan worker
	m.gauge("qrscan_scan_cycles_total", "Completed scan cycles",
		func() float64 { return float64(m.ScanCycles.Load()) })
	m.gauge("qrscan_scan_retries_total", "Cycles skipped because no frame was ready",
		func() float64 { return float64(m.ScanRetries.Load()) })
	m.gauge("qrscan_scan_overruns_total", "Cycles that exceeded the target period",
		func() float64 { return float64(m.ScanOverruns.Load()) })
	m.gauge("qrscan_results_decoded_total", "Symbols returned by the recognizer",
		func() float64 { return float64(m.ResultsDecoded.Load()) })
	m.gauge("qrscan_results_new_total", "Symbols reported for the first time",
		func() float64 { return float64(m.ResultsNew.Load()) })
	m.gauge("qrscan_results_duplicate_total", "Symbols already reported",
		func() float64 { return float64(m.ResultsDuplicate.Load()) })
	m.gauge("qrscan_decode_errors_total", "Recognizer failures other than no-symbol",
		func() float64 { return float64(m.DecodeErrors.Load()) })
	m.gauge("qrscan_decode_latency_ms", "Last recognition time in milliseconds",
		func() float64 { return float64(m.DecodeLatencyMs.Load()) })

	// Display
	m.gauge("qrscan_rendered_frames_total", "Frames rendered for display clients",
		func() float64 { return float64(m.RenderedFrames.Load()) })
	m.gauge("qrscan_render_errors_total", "Frame render failures",
		func() float64 { return float64(m.RenderErrors.Load()) })
	m.gauge("qrscan_active_clients", "Connected display clients",
		func() float64 { return float64(m.ActiveClients.Load()) })
}

// FramePublished implements frameslot.Observer.
func (m *Metrics) FramePublished(width, height, _ int) {
	m.FramesPublished.Add(1)
	m.FrameWidth.Store(uint64(width))
	m.FrameHeight.Store(uint64(height))
}

// FrameRejected implements frameslot.Observer.
func (m *Metrics) FrameRejected() {
	m.FramesRejected.Add(1)
}

// BufferResized implements frameslot.Observer.
func (m *Metrics) BufferResized(_, _ int) {
	m.BufferResizes.Add(1)
}

// Snapshot implements frameslot.Observer.
func (m *Metrics) Snapshot(ok bool) {
	if ok {
		m.SnapshotsOK.Add(1)
	} else {
		m.SnapshotsEmpty.Add(1)
	}
}

// CycleCompleted records one finished scan cycle.
func (m *Metrics) CycleCompleted(c types.ScanCycle, period time.Duration) {
	m.ScanCycles.Add(1)
	m.ResultsDecoded.Add(uint64(len(c.Results)))
	m.ResultsNew.Add(uint64(len(c.New)))
	m.ResultsDuplicate.Add(uint64(len(c.Results) - len(c.New)))
	m.DecodeLatencyMs.Store(uint64(c.Decode.Milliseconds()))
	m.decodeHist.Observe(c.Decode.Seconds())
	if c.Elapsed > period {
		m.ScanOverruns.Add(1)
	}
}

// CycleRetried records a cycle abandoned because no frame was ready.
func (m *Metrics) CycleRetried() {
	m.ScanRetries.Add(1)
}

// DecodeFailed records a recognizer error.
func (m *Metrics) DecodeFailed() {
	m.DecodeErrors.Add(1)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPServer returns a server exposing /metrics on addr.
func (m *Metrics) HTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
