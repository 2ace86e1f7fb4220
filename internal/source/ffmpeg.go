package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/yzhangec/mavic-qrscan/internal/logger"
	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// FFmpeg decodes any stream ffmpeg understands (RTMP/RTSP/UDP/file) into
// scaled BGRA frames read from the child's stdout.
type FFmpeg struct {
	URL      string
	Width    int
	Height   int
	Realtime bool   // pace file inputs at their native rate (-re)
	Binary   string // defaults to "ffmpeg" on PATH

	ready *readySignal
}

// NewFFmpeg creates an ffmpeg-backed source.
func NewFFmpeg(url string, width, height int) *FFmpeg {
	return &FFmpeg{
		URL:    url,
		Width:  width,
		Height: height,
		Binary: "ffmpeg",
		ready:  newReadySignal(),
	}
}

// Name implements Source.
func (s *FFmpeg) Name() string { return "ffmpeg" }

// Ready implements Source.
func (s *FFmpeg) Ready() <-chan struct{} { return s.ready.ch }

// Args returns the ffmpeg command line, without the binary.
func (s *FFmpeg) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if s.Realtime {
		args = append(args, "-re")
	}
	return append(args,
		"-i", s.URL,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", types.PixelFormatBGRA,
		"-s", strconv.Itoa(s.Width)+"x"+strconv.Itoa(s.Height),
		"pipe:1",
	)
}

// Run implements Source. The child is killed when ctx is cancelled.
func (s *FFmpeg) Run(ctx context.Context, sink Sink) error {
	if s.URL == "" {
		return fmt.Errorf("ffmpeg source: empty input url")
	}

	cmd := exec.CommandContext(ctx, s.Binary, s.Args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	logger.Info("Source", "ffmpeg started (pid=%d): %s", cmd.Process.Pid, s.URL)

	raw := NewRaw(stdout, s.Width, s.Height, 0)
	raw.name = "ffmpeg"
	raw.ready = s.ready
	runErr := raw.Run(ctx, sink)

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if runErr != nil {
		return runErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}
