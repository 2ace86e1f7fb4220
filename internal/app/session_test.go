package app

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzhangec/mavic-qrscan/internal/config"
	"github.com/yzhangec/mavic-qrscan/internal/control"
	"github.com/yzhangec/mavic-qrscan/internal/source"
)

// signalOnlySource reports ready without ever publishing, like a decoder
// that has connected but keeps handing over frames the slot cannot use.
type signalOnlySource struct {
	ready chan struct{}
}

func (s *signalOnlySource) Run(ctx context.Context, _ source.Sink) error {
	close(s.ready)
	<-ctx.Done()
	return nil
}

func (s *signalOnlySource) Ready() <-chan struct{} { return s.ready }
func (s *signalOnlySource) Name() string           { return "signal-only" }

type avoidanceController struct {
	control.LogController
	mu    sync.Mutex
	calls []bool
}

func (c *avoidanceController) SetObstacleAvoidance(_ context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, enabled)
	return nil
}

func (c *avoidanceController) Calls() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.calls...)
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Scan.Period = 20 * time.Millisecond
	cfg.Scan.RetryBackoff = 2 * time.Millisecond
	cfg.Source.Width = 320
	cfg.Source.Height = 240
	cfg.Source.Payloads = []string{"DROP-ZONE-A"}
	return cfg
}

// rawStream renders n frames of a single payload as a headerless BGRA stream.
func rawStream(t *testing.T, payload string, w, h, n int) []byte {
	t.Helper()
	syn, err := source.NewSynthetic(source.SyntheticConfig{Payloads: []string{payload}, Width: w, Height: h})
	require.NoError(t, err)

	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		data, _, _ := syn.Frame(i)
		buf.Write(data)
	}
	return buf.Bytes()
}

func TestSessionScansFiniteStream(t *testing.T) {
	cfg := testConfig()
	stream := rawStream(t, "DROP-ZONE-A", cfg.Source.Width, cfg.Source.Height, 3)
	src := source.NewRaw(bytes.NewReader(stream), cfg.Source.Width, cfg.Source.Height, 0)

	s, err := NewSession(cfg, WithSource(src))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, "DROP-ZONE-A\n", s.Results.String())
	assert.Equal(t, []string{"DROP-ZONE-A"}, s.Seen.Log())
	assert.Equal(t, uint64(3), s.Slot.Seq())
	assert.Positive(t, s.Metrics.ScanCycles.Load())
}

func TestSessionSyntheticUntilCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Source.FPS = 60

	s, err := NewSession(cfg)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", s.Source.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Results.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, []string{"DROP-ZONE-A"}, s.Results.Lines())
}

func TestSessionCancelledBeforeFirstFrame(t *testing.T) {
	cfg := testConfig()
	// A reader that never yields a full frame before the context ends.
	src := source.NewRaw(bytes.NewReader(nil), cfg.Source.Width, cfg.Source.Height, 0)

	s, err := NewSession(cfg, WithSource(src))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Results.Len())
}

func TestSessionShortStreamIsAnError(t *testing.T) {
	cfg := testConfig()
	stream := rawStream(t, "X", cfg.Source.Width, cfg.Source.Height, 1)
	src := source.NewRaw(bytes.NewReader(stream[:len(stream)-10]), cfg.Source.Width, cfg.Source.Height, 0)

	s, err := NewSession(cfg, WithSource(src))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.Run(ctx)
	require.ErrorIs(t, err, source.ErrShortFrame)
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Scan.Period = 0
	_, err := NewSession(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan.period")
}

func TestNewSessionSourceKinds(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Kind = config.SourceFFmpeg
	cfg.Source.URL = "udp://127.0.0.1:11111"
	s, err := NewSession(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", s.Source.Name())

	cfg.Source.Kind = config.SourceRaw
	cfg.Source.URL = filepath.Join(t.TempDir(), "missing.bgra")
	_, err = NewSession(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open raw source")
}

func TestSessionStartsWorkerOnSourceReady(t *testing.T) {
	cfg := testConfig()
	src := &signalOnlySource{ready: make(chan struct{})}

	s, err := NewSession(cfg, WithSource(src))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// The slot never becomes ready, so only the source's signal can start the
	// worker; a running worker shows up as snapshot retries.
	require.Eventually(t, func() bool { return s.Metrics.ScanRetries.Load() > 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Zero(t, s.Results.Len())
}

func TestSessionDisablesObstacleAvoidance(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		cfg := testConfig()
		cfg.Control.Enabled = enabled
		ctrl := &avoidanceController{}
		src := source.NewRaw(bytes.NewReader(nil), cfg.Source.Width, cfg.Source.Height, 0)

		s, err := NewSession(cfg, WithSource(src), WithController(ctrl))
		require.NoError(t, err)
		require.NoError(t, s.Run(context.Background()))

		if enabled {
			assert.Equal(t, []bool{false}, ctrl.Calls())
		} else {
			assert.Empty(t, ctrl.Calls())
		}
	}
}
