// Package scanner runs barcode recognition against the latest frame at a
// bounded rate and reports each decoded payload once.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yzhangec/mavic-qrscan/internal/logger"
	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

const (
	// DefaultPeriod caps the worker at 5 cycles per second.
	DefaultPeriod = 200 * time.Millisecond

	// DefaultRetryBackoff is the pause after a snapshot that was not ready.
	DefaultRetryBackoff = 10 * time.Millisecond
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("scan worker already started")

// FrameSource is read once per cycle. *frameslot.Slot satisfies it.
type FrameSource interface {
	SnapshotInto(dst *types.Frame) (*types.Frame, error)
}

// ResultSink receives payloads reported for the first time. *ResultLog satisfies it.
type ResultSink interface {
	Append(text string) Entry
}

// CycleObserver is told about every cycle. *metrics.Metrics satisfies it.
type CycleObserver interface {
	CycleCompleted(c types.ScanCycle, period time.Duration)
	CycleRetried()
	DecodeFailed()
}

// Clock abstracts time so the throttle can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done; it reports false in the latter case.
	Sleep(ctx context.Context, d time.Duration) bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ThrottleDelay returns how long to wait after a cycle that took elapsed so
// cycle starts are at least period apart. It never returns a negative value
// and never tries to catch up on overruns.
func ThrottleDelay(period, elapsed time.Duration) time.Duration {
	if elapsed >= period {
		return 0
	}
	return period - elapsed
}

// Option configures a Worker.
type Option func(*Worker)

// WithPeriod sets the target cycle period.
func WithPeriod(d time.Duration) Option {
	return func(w *Worker) { w.period = d }
}

// WithRetryBackoff sets the pause after a not-ready snapshot.
func WithRetryBackoff(d time.Duration) Option {
	return func(w *Worker) { w.backoff = d }
}

// WithObserver attaches a cycle observer.
func WithObserver(o CycleObserver) Option {
	return func(w *Worker) { w.observer = o }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(w *Worker) { w.clock = c }
}

// WithCycleHook is called at the end of each completed cycle, on the worker goroutine.
func WithCycleHook(fn func(types.ScanCycle)) Option {
	return func(w *Worker) { w.onCycle = fn }
}

// Worker is the single consumer scan loop:
// snapshot, recognize, report, throttle.
type Worker struct {
	src      FrameSource
	rec      Recognizer
	dedup    Deduplicator
	sink     ResultSink
	period   time.Duration
	backoff  time.Duration
	observer CycleObserver
	clock    Clock
	onCycle  func(types.ScanCycle)

	snap    types.Frame // reused snapshot buffer, owned by the loop
	retries int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker wires a worker. dedup is owned by the worker from here on.
func NewWorker(src FrameSource, rec Recognizer, dedup Deduplicator, sink ResultSink, opts ...Option) *Worker {
	w := &Worker{
		src:     src,
		rec:     rec,
		dedup:   dedup,
		sink:    sink,
		period:  DefaultPeriod,
		backoff: DefaultRetryBackoff,
		clock:   realClock{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)

	logger.Info("Worker", "Scan worker started (period=%v, backoff=%v)", w.period, w.backoff)
	return nil
}

// Stop asks the loop to exit at the next cycle boundary and waits for it.
// Safe to call more than once, and before Start.
func (w *Worker) Stop() {
	w.mu.Lock()
	started := w.started
	cancel := w.cancel
	w.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-w.done
}

// Done is closed when the loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer logger.Info("Worker", "Scan worker stopped")

	for {
		// Cycle boundary: the only place a stop is honoured mid-run.
		if ctx.Err() != nil {
			return
		}

		start := w.clock.Now()
		frame, err := w.src.SnapshotInto(&w.snap)
		if err != nil {
			w.retried(err)
			if !w.clock.Sleep(ctx, w.backoff) {
				return
			}
			continue
		}
		if w.retries > 0 {
			logger.Debug("Worker", "Frame ready after %d retries", w.retries)
			w.retries = 0
		}

		cycle := w.scan(frame, start)
		if !w.clock.Sleep(ctx, ThrottleDelay(w.period, cycle.Elapsed)) {
			return
		}
	}
}

func (w *Worker) retried(err error) {
	w.retries++
	if w.observer != nil {
		w.observer.CycleRetried()
	}
	// Startup and resolution changes can produce long runs of these.
	if w.retries == 1 || w.retries%100 == 0 {
		logger.Debug("Worker", "Snapshot unavailable (%v), retry #%d", err, w.retries)
	}
}

// scan runs recognition and reporting for one snapshot.
func (w *Worker) scan(frame *types.Frame, start time.Time) types.ScanCycle {
	cycle := types.ScanCycle{Start: start, FrameSeq: frame.Seq}

	decodeStart := w.clock.Now()
	results, err := w.rec.DecodeMultiple(frame)
	cycle.Decode = w.clock.Now().Sub(decodeStart)

	if err != nil {
		if w.observer != nil {
			w.observer.DecodeFailed()
		}
		logger.Warn("Worker", "Recognition failed on frame #%d: %v", frame.Seq, err)
		results = nil
	}
	cycle.Results = results

	// Recognizer order is kept so first-seen order is deterministic per cycle.
	for _, r := range results {
		if !w.dedup.Report(r.Text) {
			continue
		}
		cycle.New = append(cycle.New, r.Text)
		if w.sink != nil {
			w.sink.Append(r.Text)
		}
		logger.Info("Worker", "New %s payload: %q (frame #%d)", r.Format, r.Text, frame.Seq)
	}

	cycle.Elapsed = w.clock.Now().Sub(start)
	if cycle.Elapsed > w.period {
		logger.Debug("Worker", "Cycle overran period: %v > %v", cycle.Elapsed, w.period)
	}

	if w.observer != nil {
		w.observer.CycleCompleted(cycle, w.period)
	}
	if w.onCycle != nil {
		w.onCycle(cycle)
	}
	return cycle
}
