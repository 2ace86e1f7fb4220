// Package source adapts external video feeds into BGRA frames for the frame slot.
package source

import (
	"context"
	"errors"
	"sync"
)

// ErrShortFrame means a stream ended part-way through a frame.
var ErrShortFrame = errors.New("short frame")

// Sink receives decoded frames. *frameslot.Slot satisfies it.
type Sink interface {
	Publish(data []byte, width, height int) error
}

// Source is a video feed. Run blocks until ctx is cancelled or the feed ends.
type Source interface {
	Run(ctx context.Context, sink Sink) error
	// Ready is closed once the first frame has been published.
	Ready() <-chan struct{}
	Name() string
}

// readySignal is a close-once channel shared by the sources.
type readySignal struct {
	ch   chan struct{}
	once sync.Once
}

func newReadySignal() *readySignal {
	return &readySignal{ch: make(chan struct{})}
}

func (r *readySignal) fire() {
	r.once.Do(func() { close(r.ch) })
}
