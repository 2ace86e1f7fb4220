// Package config holds the runtime configuration for the scanner.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceFFmpeg    = "ffmpeg"
	SourceRaw       = "raw"
)

// Config defines the runtime configuration. Zero values are not meaningful;
// start from DefaultConfig.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`    // monitor server; empty disables it
	MetricsAddr string `yaml:"metrics_addr"` // Prometheus endpoint; empty disables it
	PprofAddr   string `yaml:"pprof_addr"`   // net/http/pprof; empty disables it

	Scan    ScanConfig    `yaml:"scan"`
	Display DisplayConfig `yaml:"display"`
	Source  SourceConfig  `yaml:"source"`
	Log     LogConfig     `yaml:"log"`
	Control ControlConfig `yaml:"control"`
}

// ScanConfig tunes the scan worker and recognizer.
type ScanConfig struct {
	Period       time.Duration `yaml:"period"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	TryHarder    bool          `yaml:"try_harder"`
	ROIOnly      bool          `yaml:"roi_only"`
}

// DisplayConfig tunes the MJPEG preview.
type DisplayConfig struct {
	RenderInterval time.Duration `yaml:"render_interval"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	MaxWidth       int           `yaml:"max_width"`
}

// SourceConfig selects and sizes the video feed.
type SourceConfig struct {
	Kind     string   `yaml:"kind"`
	URL      string   `yaml:"url"` // ffmpeg input, or a file path ("-" for stdin) for raw
	Width    int      `yaml:"width"`
	Height   int      `yaml:"height"`
	FPS      float64  `yaml:"fps"`
	Realtime bool     `yaml:"realtime"`
	Payloads []string `yaml:"payloads"`
	Hold     int      `yaml:"hold"`
	VarySize bool     `yaml:"vary_size"`
}

// LogConfig controls logger output.
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// ControlConfig limits the manual flight-control pass-through.
type ControlConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MaxStick     float64 `yaml:"max_stick"`
	ThrottleStep float64 `yaml:"throttle_step"`
	AxisStep     float64 `yaml:"axis_step"`
}

// DefaultConfig returns the stock configuration: 5 Hz scanning of a 1280x720 feed.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		Scan: ScanConfig{
			Period:       200 * time.Millisecond,
			RetryBackoff: 10 * time.Millisecond,
			TryHarder:    true,
		},
		Display: DisplayConfig{
			RenderInterval: 66 * time.Millisecond,
			JPEGQuality:    75,
			MaxWidth:       1280,
		},
		Source: SourceConfig{
			Kind:     SourceSynthetic,
			Width:    1280,
			Height:   720,
			FPS:      30,
			Payloads: []string{"https://example.com/waypoint/1", "WAYPOINT-2", "WAYPOINT-3"},
			Hold:     60,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
		Control: ControlConfig{
			Enabled:      true,
			MaxStick:     0.5,
			ThrottleStep: 0.02,
			AxisStep:     0.05,
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Scan.Period <= 0 {
		errs = append(errs, fmt.Errorf("scan.period must be positive, got %v", c.Scan.Period))
	}
	if c.Scan.RetryBackoff <= 0 {
		errs = append(errs, fmt.Errorf("scan.retry_backoff must be positive, got %v", c.Scan.RetryBackoff))
	}
	if c.Display.RenderInterval <= 0 {
		errs = append(errs, fmt.Errorf("display.render_interval must be positive, got %v", c.Display.RenderInterval))
	}
	if c.Display.JPEGQuality < 1 || c.Display.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("display.jpeg_quality must be 1-100, got %d", c.Display.JPEGQuality))
	}
	if c.Display.MaxWidth < 0 {
		errs = append(errs, fmt.Errorf("display.max_width must not be negative, got %d", c.Display.MaxWidth))
	}

	switch c.Source.Kind {
	case SourceSynthetic:
		if len(c.Source.Payloads) == 0 {
			errs = append(errs, errors.New("source.payloads is empty for the synthetic source"))
		}
	case SourceFFmpeg, SourceRaw:
		if c.Source.URL == "" {
			errs = append(errs, fmt.Errorf("source.url is required for the %s source", c.Source.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind %q is not one of %s, %s, %s",
			c.Source.Kind, SourceSynthetic, SourceFFmpeg, SourceRaw))
	}
	if c.Source.Width <= 0 || c.Source.Height <= 0 {
		errs = append(errs, fmt.Errorf("source size must be positive, got %dx%d", c.Source.Width, c.Source.Height))
	}
	if c.Source.FPS < 0 {
		errs = append(errs, fmt.Errorf("source.fps must not be negative, got %v", c.Source.FPS))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "silent":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is unknown", c.Log.Level))
	}

	if c.Control.MaxStick <= 0 || c.Control.MaxStick > 1 {
		errs = append(errs, fmt.Errorf("control.max_stick must be in (0, 1], got %v", c.Control.MaxStick))
	}
	if c.Control.ThrottleStep <= 0 || c.Control.AxisStep <= 0 {
		errs = append(errs, errors.New("control steps must be positive"))
	}

	return errors.Join(errs...)
}

// FromArgs builds a config from defaults, an optional -config YAML file, and
// command-line flags, in increasing order of precedence.
func FromArgs(name string, args []string) (Config, error) {
	// First pass only finds the config file.
	probe := DefaultConfig()
	var path string
	fs := newFlagSet(name, &probe, &path)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		// Re-run with output so usage and the error are shown once.
		fs = newFlagSet(name, &probe, &path)
		return probe, fs.Parse(args)
	}

	cfg := DefaultConfig()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	// Second pass applies flags over the file.
	fs = newFlagSet(name, &cfg, &path)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newFlagSet(name string, cfg *Config, path *string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(path, "config", *path, "YAML config file")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "Monitor HTTP server address (empty to disable)")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty to disable)")
	fs.StringVar(&cfg.PprofAddr, "pprof", cfg.PprofAddr, "pprof server address (empty to disable)")

	fs.DurationVar(&cfg.Scan.Period, "scan-period", cfg.Scan.Period, "Minimum time between scan cycle starts")
	fs.DurationVar(&cfg.Scan.RetryBackoff, "scan-backoff", cfg.Scan.RetryBackoff, "Pause when no frame is ready")
	fs.BoolVar(&cfg.Scan.TryHarder, "try-harder", cfg.Scan.TryHarder, "Slower, more thorough QR search")
	fs.BoolVar(&cfg.Scan.ROIOnly, "roi-only", cfg.Scan.ROIOnly, "Only scan the central region of interest")

	fs.DurationVar(&cfg.Display.RenderInterval, "render-interval", cfg.Display.RenderInterval, "MJPEG render interval")
	fs.IntVar(&cfg.Display.JPEGQuality, "jpeg-quality", cfg.Display.JPEGQuality, "MJPEG quality (1-100)")
	fs.IntVar(&cfg.Display.MaxWidth, "max-width", cfg.Display.MaxWidth, "Downscale preview frames wider than this (0 = off)")

	fs.StringVar(&cfg.Source.Kind, "source", cfg.Source.Kind, "Video source: synthetic, ffmpeg, raw")
	fs.StringVar(&cfg.Source.URL, "url", cfg.Source.URL, "ffmpeg input URL, or raw BGRA file ('-' for stdin)")
	fs.IntVar(&cfg.Source.Width, "width", cfg.Source.Width, "Frame width")
	fs.IntVar(&cfg.Source.Height, "height", cfg.Source.Height, "Frame height")
	fs.Float64Var(&cfg.Source.FPS, "fps", cfg.Source.FPS, "Source frame rate (0 = as fast as delivered)")
	fs.BoolVar(&cfg.Source.Realtime, "realtime", cfg.Source.Realtime, "Read ffmpeg file input at native rate")
	fs.Func("payloads", "Comma-separated payloads for the synthetic source", func(s string) error {
		cfg.Source.Payloads = splitList(s)
		return nil
	})
	fs.IntVar(&cfg.Source.Hold, "hold", cfg.Source.Hold, "Synthetic frames per payload")
	fs.BoolVar(&cfg.Source.VarySize, "vary-size", cfg.Source.VarySize, "Synthetic source alternates frame sizes")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.Log.Color, "log-color", cfg.Log.Color, "Enable colored log output")

	fs.BoolVar(&cfg.Control.Enabled, "control", cfg.Control.Enabled, "Accept manual flight-control keys over HTTP")
	fs.Float64Var(&cfg.Control.MaxStick, "max-stick", cfg.Control.MaxStick, "Virtual stick clamp")

	return fs
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
