package source

import (
	"context"
	"fmt"
	"time"

	"github.com/makiuchi-d/gozxing"

	"github.com/yzhangec/mavic-qrscan/internal/logger"
	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// SyntheticConfig describes a generated test feed.
type SyntheticConfig struct {
	Payloads []string
	Width    int
	Height   int
	FPS      float64
	Hold     int  // frames each payload stays on screen
	VarySize bool // alternate payloads are drawn on a half-size canvas
}

// Synthetic renders QR payloads onto a flat canvas, cycling through them.
// It stands in for the aircraft feed on the bench.
type Synthetic struct {
	cfg   SyntheticConfig
	codes []*gozxing.BitMatrix
	buf   []byte
	ready *readySignal
}

// NewSynthetic encodes every payload up front.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("synthetic source: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Hold <= 0 {
		cfg.Hold = 1
	}
	s := &Synthetic{
		cfg:   cfg,
		buf:   make([]byte, cfg.Width*cfg.Height*types.BytesPerPixel),
		ready: newReadySignal(),
	}
	for _, p := range cfg.Payloads {
		m, err := EncodeQR(p)
		if err != nil {
			return nil, err
		}
		s.codes = append(s.codes, m)
	}
	return s, nil
}

// Name implements Source.
func (s *Synthetic) Name() string { return "synthetic" }

// Ready implements Source.
func (s *Synthetic) Ready() <-chan struct{} { return s.ready.ch }

// Frame renders frame i. The returned slice is reused by the next call.
func (s *Synthetic) Frame(i int) (data []byte, width, height int) {
	width, height = s.cfg.Width, s.cfg.Height
	step := i / s.cfg.Hold
	if s.cfg.VarySize && step%2 == 1 {
		width, height = width/2, height/2
	}

	data = s.buf[:width*height*types.BytesPerPixel]
	FillBGRA(data, 255)
	if len(s.codes) == 0 {
		return data, width, height
	}

	m := s.codes[step%len(s.codes)]
	// Fit the symbol inside the central ROI.
	side := min(width, height) / 2
	scale := max(side/m.GetWidth(), 1)
	size := m.GetWidth() * scale
	PaintQR(data, width, height, (width-size)/2, (height-size)/2, scale, m)
	return data, width, height
}

// Run implements Source.
func (s *Synthetic) Run(ctx context.Context, sink Sink) error {
	fps := s.cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	logger.Info("Source", "Synthetic feed %dx%d @ %.1f fps, %d payloads",
		s.cfg.Width, s.cfg.Height, fps, len(s.codes))

	for i := 0; ; i++ {
		data, w, h := s.Frame(i)
		if err := sink.Publish(data, w, h); err != nil {
			logger.Warn("Source", "synthetic frame rejected: %v", err)
		} else {
			s.ready.fire()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
