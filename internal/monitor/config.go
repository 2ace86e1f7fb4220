package monitor

import "time"

// Config defines the runtime configuration for the monitor server.
type Config struct {
	Addr           string
	RenderInterval time.Duration
	StatusInterval time.Duration
	JPEGQuality    int
	MaxWidth       int
	ControlEnabled bool
}

// DefaultConfig returns a config for a ~15 fps preview.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		RenderInterval: 66 * time.Millisecond,
		StatusInterval: 2 * time.Second,
		JPEGQuality:    75,
		MaxWidth:       1280,
		ControlEnabled: true,
	}
}
