package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yzhangec/mavic-qrscan/internal/logger"
	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// Raw reads back-to-back BGRA frames of a fixed size from a stream.
type Raw struct {
	r      io.Reader
	width  int
	height int
	fps    float64
	name   string
	ready  *readySignal
}

// NewRaw creates a reader of width x height frames. fps <= 0 reads as fast
// as the stream delivers.
func NewRaw(r io.Reader, width, height int, fps float64) *Raw {
	return &Raw{
		r:      r,
		width:  width,
		height: height,
		fps:    fps,
		name:   "raw",
		ready:  newReadySignal(),
	}
}

// Name implements Source.
func (s *Raw) Name() string { return s.name }

// Ready implements Source.
func (s *Raw) Ready() <-chan struct{} { return s.ready.ch }

// Run implements Source. A clean end of stream on a frame boundary returns nil.
func (s *Raw) Run(ctx context.Context, sink Sink) error {
	if s.width <= 0 || s.height <= 0 {
		return fmt.Errorf("raw source: invalid size %dx%d", s.width, s.height)
	}
	size := s.width * s.height * types.BytesPerPixel
	buf := make([]byte, size)

	var tick <-chan time.Time
	if s.fps > 0 {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / s.fps))
		defer ticker.Stop()
		tick = ticker.C
	}

	var frames uint64
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := io.ReadFull(s.r, buf)
		switch {
		case errors.Is(err, io.EOF):
			logger.Info("Source", "%s: end of stream after %d frames", s.name, frames)
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("%s: %w: got %d of %d bytes", s.name, ErrShortFrame, n, size)
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: read frame: %w", s.name, err)
		}

		if err := sink.Publish(buf, s.width, s.height); err != nil {
			logger.Warn("Source", "%s: frame rejected: %v", s.name, err)
			continue
		}
		frames++
		s.ready.fire()

		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
	}
}
