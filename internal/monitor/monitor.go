package monitor

import (
	"sync"
	"time"

	"github.com/yzhangec/mavic-qrscan/internal/control"
	"github.com/yzhangec/mavic-qrscan/internal/metrics"
	"github.com/yzhangec/mavic-qrscan/internal/scanner"
	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// FrameSource is the read side of the frame slot.
type FrameSource interface {
	SnapshotInto(dst *types.Frame) (*types.Frame, error)
	Seq() uint64
	Dimensions() (width, height int)
}

// ResultFeed is the read side of the result log.
type ResultFeed interface {
	Entries(from int) []scanner.Entry
	Len() int
	String() string
	Subscribe() (int, <-chan scanner.Entry)
	Unsubscribe(id int)
}

const recentResults = 8

// Monitor assembles status snapshots from the pipeline components.
type Monitor struct {
	startTime time.Time
	sessionID string
	period    time.Duration

	frames   FrameSource
	results  ResultFeed
	metrics  *metrics.Metrics
	joystick *control.Joystick

	mu           sync.Mutex
	lastRendered uint64
	lastSample   time.Time
	currentFPS   float64
}

// NewMonitor creates a Monitor. joystick may be nil.
func NewMonitor(sessionID string, period time.Duration, frames FrameSource, results ResultFeed, m *metrics.Metrics, joystick *control.Joystick) *Monitor {
	now := time.Now()
	return &Monitor{
		startTime:  now,
		sessionID:  sessionID,
		period:     period,
		frames:     frames,
		results:    results,
		metrics:    m,
		joystick:   joystick,
		lastSample: now,
	}
}

// Snapshot returns the current status.
func (m *Monitor) Snapshot() Status {
	now := time.Now()
	width, height := m.frames.Dimensions()
	seq := m.frames.Seq()

	st := Status{
		SessionID: m.sessionID,
		UptimeS:   now.Sub(m.startTime).Seconds(),
		Frame: FrameStats{
			Ready:  seq > 0 && width > 0 && height > 0,
			Width:  width,
			Height: height,
			Seq:    seq,
		},
		Scan: ScanStats{
			PeriodMs:        m.period.Milliseconds(),
			Cycles:          m.metrics.ScanCycles.Load(),
			Retries:         m.metrics.ScanRetries.Load(),
			Overruns:        m.metrics.ScanOverruns.Load(),
			DecodeErrors:    m.metrics.DecodeErrors.Load(),
			DecodeLatencyMs: m.metrics.DecodeLatencyMs.Load(),
		},
		Display: DisplayStats{
			Clients:      m.metrics.ActiveClients.Load(),
			Rendered:     m.metrics.RenderedFrames.Load(),
			RenderErrors: m.metrics.RenderErrors.Load(),
			CurrentFPS:   m.sampleFPS(now),
		},
		Timestamp: float64(now.UnixMilli()) / 1000,
	}

	n := m.results.Len()
	recent := m.results.Entries(n - recentResults)
	st.Results = ResultStats{Count: n, Recent: make([]string, 0, len(recent))}
	for i := len(recent) - 1; i >= 0; i-- {
		st.Results.Recent = append(st.Results.Recent, recent[i].Text)
	}
	if len(recent) > 0 {
		st.Results.Latest = recent[len(recent)-1].Text
	}

	if m.joystick != nil {
		axes := m.joystick.Axes()
		st.Control = &axes
	}
	return st
}

// sampleFPS derives the preview frame rate from the rendered counter.
func (m *Monitor) sampleFPS(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	rendered := m.metrics.RenderedFrames.Load()
	elapsed := now.Sub(m.lastSample).Seconds()
	if elapsed >= 1 {
		m.currentFPS = float64(rendered-m.lastRendered) / elapsed
		m.lastRendered = rendered
		m.lastSample = now
	}
	return m.currentFPS
}
