package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qrscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200*time.Millisecond, cfg.Scan.Period)
	assert.Equal(t, 10*time.Millisecond, cfg.Scan.RetryBackoff)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
http_addr: ":9000"
scan:
  period: 250ms
  roi_only: true
source:
  kind: ffmpeg
  url: rtmp://127.0.0.1/live/drone
  width: 960
  height: 540
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.Scan.Period)
	assert.True(t, cfg.Scan.ROIOnly)
	assert.Equal(t, SourceFFmpeg, cfg.Source.Kind)
	assert.Equal(t, 960, cfg.Source.Width)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10*time.Millisecond, cfg.Scan.RetryBackoff)
	assert.Equal(t, 75, cfg.Display.JPEGQuality)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "scan:\n  perod: 1s\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateListsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.Period = 0
	cfg.Display.JPEGQuality = 150
	cfg.Source.Kind = "webcam"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "scan.period")
	assert.Contains(t, msg, "jpeg_quality")
	assert.Contains(t, msg, `source.kind "webcam"`)
	assert.Contains(t, msg, `log.level "loud"`)
}

func TestValidateRequiresURLForStreams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Kind = SourceRaw
	assert.ErrorContains(t, cfg.Validate(), "source.url")
}

func TestFromArgsFlagsBeatFile(t *testing.T) {
	path := writeFile(t, "scan:\n  period: 300ms\n  retry_backoff: 20ms\n")

	cfg, err := FromArgs("qrscan", []string{
		"-config", path,
		"-scan-period", "100ms",
		"-payloads", "A, B,,C",
	})
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Scan.Period)
	assert.Equal(t, 20*time.Millisecond, cfg.Scan.RetryBackoff)
	assert.Equal(t, []string{"A", "B", "C"}, cfg.Source.Payloads)
}

func TestFromArgsWithoutFile(t *testing.T) {
	cfg, err := FromArgs("qrscan", []string{"-http", "", "-pprof", "localhost:6060"})
	require.NoError(t, err)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "localhost:6060", cfg.PprofAddr)
	assert.Equal(t, DefaultConfig().Scan, cfg.Scan)
}

func TestFromArgsBadFlag(t *testing.T) {
	_, err := FromArgs("qrscan", []string{"-no-such-flag"})
	assert.Error(t, err)
}
