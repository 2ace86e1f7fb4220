// Package app wires the frame slot, video source and scan worker into one session.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yzhangec/mavic-qrscan/internal/config"
	"github.com/yzhangec/mavic-qrscan/internal/control"
	"github.com/yzhangec/mavic-qrscan/internal/frameslot"
	"github.com/yzhangec/mavic-qrscan/internal/logger"
	"github.com/yzhangec/mavic-qrscan/internal/metrics"
	"github.com/yzhangec/mavic-qrscan/internal/scanner"
	"github.com/yzhangec/mavic-qrscan/internal/source"
	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// drainPeriods bounds how long a finished source waits for the last frame to be scanned.
const drainPeriods = 10

// Option customises a Session.
type Option func(*Session)

// WithSource replaces the configured video source.
func WithSource(src source.Source) Option {
	return func(s *Session) { s.Source = src }
}

// WithRecognizer replaces the QR recognizer.
func WithRecognizer(rec scanner.Recognizer) Option {
	return func(s *Session) { s.recognizer = rec }
}

// WithController attaches an aircraft link to the joystick.
func WithController(ctrl control.Controller) Option {
	return func(s *Session) { s.controller = ctrl }
}

// Session owns every pipeline component for one run. There is exactly one
// frame slot, one worker and one result log per session.
type Session struct {
	ID       string
	Config   config.Config
	Slot     *frameslot.Slot
	Seen     *scanner.SeenSet
	Results  *scanner.ResultLog
	Worker   *scanner.Worker
	Metrics  *metrics.Metrics
	Joystick *control.Joystick
	Source   source.Source

	recognizer  scanner.Recognizer
	controller  control.Controller
	closer      io.Closer
	lastScanned atomic.Uint64
}

// NewSession builds a session from cfg.
func NewSession(cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := metrics.New()
	s := &Session{
		ID:      uuid.NewString(),
		Config:  cfg,
		Slot:    frameslot.New(m),
		Seen:    scanner.NewSeenSet(),
		Results: scanner.NewResultLog(),
		Metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.recognizer == nil {
		var qrOpts []scanner.QROption
		if cfg.Scan.TryHarder {
			qrOpts = append(qrOpts, scanner.WithTryHarder())
		}
		if cfg.Scan.ROIOnly {
			qrOpts = append(qrOpts, scanner.WithROIOnly())
		}
		s.recognizer = scanner.NewQRRecognizer(qrOpts...)
	}

	if s.Source == nil {
		src, closer, err := newSource(cfg.Source)
		if err != nil {
			return nil, err
		}
		s.Source = src
		s.closer = closer
	}

	s.Joystick = control.NewJoystick(s.controller, control.Limits{
		MaxStick:     cfg.Control.MaxStick,
		ThrottleStep: cfg.Control.ThrottleStep,
		AxisStep:     cfg.Control.AxisStep,
	})

	s.Worker = scanner.NewWorker(s.Slot, s.recognizer, s.Seen, s.Results,
		scanner.WithPeriod(cfg.Scan.Period),
		scanner.WithRetryBackoff(cfg.Scan.RetryBackoff),
		scanner.WithObserver(m),
		scanner.WithCycleHook(func(c types.ScanCycle) { s.lastScanned.Store(c.FrameSeq) }),
	)
	return s, nil
}

func newSource(cfg config.SourceConfig) (source.Source, io.Closer, error) {
	switch cfg.Kind {
	case config.SourceSynthetic:
		src, err := source.NewSynthetic(source.SyntheticConfig{
			Payloads: cfg.Payloads,
			Width:    cfg.Width,
			Height:   cfg.Height,
			FPS:      cfg.FPS,
			Hold:     cfg.Hold,
			VarySize: cfg.VarySize,
		})
		return src, nil, err

	case config.SourceFFmpeg:
		src := source.NewFFmpeg(cfg.URL, cfg.Width, cfg.Height)
		src.Realtime = cfg.Realtime
		return src, nil, nil

	case config.SourceRaw:
		if cfg.URL == "-" {
			return source.NewRaw(os.Stdin, cfg.Width, cfg.Height, cfg.FPS), nil, nil
		}
		f, err := os.Open(cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open raw source: %w", err)
		}
		return source.NewRaw(f, cfg.Width, cfg.Height, cfg.FPS), f, nil
	}
	return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
}

// Run feeds the slot from the source and scans it until ctx is cancelled or
// the source ends. The worker only starts once the first frame has arrived.
func (s *Session) Run(ctx context.Context) error {
	if s.closer != nil {
		defer s.closer.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	logger.Info("Session", "Session %s: source=%s period=%v", s.ID, s.Source.Name(), s.Config.Scan.Period)

	if s.Config.Control.Enabled {
		if err := s.Joystick.Prepare(ctx); err != nil {
			logger.Warn("Session", "Flight control setup failed: %v", err)
		}
	}

	g.Go(func() error {
		err := s.Source.Run(gctx, s.Slot)
		if err != nil {
			return fmt.Errorf("source %s: %w", s.Source.Name(), err)
		}
		if gctx.Err() == nil {
			logger.Info("Session", "Source %s ended", s.Source.Name())
			s.drain(gctx)
			cancel()
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Session", "Waiting for %s to deliver its first frame...", s.Source.Name())
		// Sources signal readiness themselves; the slot signal covers
		// sinks fed from outside the source.
		select {
		case <-gctx.Done():
			return nil
		case <-s.Source.Ready():
		case <-s.Slot.Ready():
		}
		w, h := s.Slot.Dimensions()
		logger.Info("Session", "%s ready (%dx%d), starting scan worker", s.Source.Name(), w, h)

		if err := s.Worker.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		s.Worker.Stop()
		return nil
	})

	err := g.Wait()
	logger.With("Session").Info("session finished",
		"id", s.ID, "frames", s.Slot.Seq(), "results", s.Results.Len())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// drain gives the worker a few periods to scan the last published frame.
func (s *Session) drain(ctx context.Context) {
	target := s.Slot.Seq()
	if target == 0 {
		return
	}
	deadline := time.NewTimer(drainPeriods * s.Config.Scan.Period)
	defer deadline.Stop()
	tick := time.NewTicker(s.Config.Scan.RetryBackoff)
	defer tick.Stop()

	for s.lastScanned.Load() < target {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logger.Warn("Session", "Last frame #%d not scanned before shutdown", target)
			return
		case <-tick.C:
		}
	}
}
