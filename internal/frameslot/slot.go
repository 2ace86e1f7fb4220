// Package frameslot holds the most recently decoded video frame.
//
// One producer (the decoder callback) publishes; any number of readers
// (scan worker, renderer) take snapshots. There is no queue: a publish
// replaces whatever was there.
package frameslot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

var (
	// ErrNotReady means the slot holds no frame whose buffer agrees with its dimensions.
	ErrNotReady = errors.New("frame not ready")

	// ErrPixelFormat means the payload length is not a whole number of BGRA pixels.
	ErrPixelFormat = errors.New("payload length not a multiple of 4")

	// ErrInvalidDimensions means width or height is negative.
	ErrInvalidDimensions = errors.New("invalid frame dimensions")
)

// Observer receives slot events. Implementations must not block.
type Observer interface {
	FramePublished(width, height, size int)
	FrameRejected()
	BufferResized(oldSize, newSize int)
	Snapshot(ok bool)
}

// Slot is the shared single-frame cell.
//
// The frame pointer, and with it the (width, height, pixels) triple, is only
// read or written under mu. Published frames are immutable, so a reader that
// grabbed the pointer may copy pixels after unlocking.
type Slot struct {
	mu    sync.Mutex
	frame *types.Frame

	seq      atomic.Uint64
	ready    chan struct{}
	readyOne sync.Once
	observer Observer
	now      func() time.Time
}

// New creates an empty slot. observer may be nil.
func New(observer Observer) *Slot {
	return &Slot{
		ready:    make(chan struct{}),
		observer: observer,
		now:      time.Now,
	}
}

// Publish stores a copy of data as the current frame.
//
// data must hold whole BGRA pixels. A length that disagrees with
// width*height*4 is tolerated: the frame is stored and snapshots report
// ErrNotReady until a consistent frame arrives. The caller keeps ownership
// of data and may reuse it once Publish returns.
func (s *Slot) Publish(data []byte, width, height int) error {
	if width < 0 || height < 0 {
		s.rejected()
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if len(data)%types.BytesPerPixel != 0 {
		s.rejected()
		return fmt.Errorf("%w: got %d bytes", ErrPixelFormat, len(data))
	}

	// Copy outside the lock; the new frame is never mutated after the swap.
	pixels := make([]byte, len(data))
	copy(pixels, data)

	next := &types.Frame{
		Width:     width,
		Height:    height,
		Pixels:    pixels,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	next.Seq = s.seq.Add(1)
	prev := s.frame
	s.frame = next
	s.mu.Unlock()

	if s.observer != nil {
		if prev != nil && len(prev.Pixels) != len(pixels) {
			s.observer.BufferResized(len(prev.Pixels), len(pixels))
		}
		s.observer.FramePublished(width, height, len(pixels))
	}

	s.readyOne.Do(func() { close(s.ready) })
	return nil
}

// Snapshot returns a private copy of the current frame.
func (s *Slot) Snapshot() (*types.Frame, error) {
	return s.SnapshotInto(nil)
}

// SnapshotInto copies the current frame into dst, reusing dst.Pixels when it
// has enough capacity. dst may be nil. The returned frame never aliases the
// slot's storage.
func (s *Slot) SnapshotInto(dst *types.Frame) (*types.Frame, error) {
	s.mu.Lock()
	cur := s.frame
	s.mu.Unlock()

	if !cur.Valid() {
		s.snapshotted(false)
		return nil, ErrNotReady
	}

	if dst == nil {
		dst = &types.Frame{}
	}
	n := len(cur.Pixels)
	if cap(dst.Pixels) < n {
		dst.Pixels = make([]byte, n)
	}
	dst.Pixels = dst.Pixels[:n]
	copy(dst.Pixels, cur.Pixels)
	dst.Width = cur.Width
	dst.Height = cur.Height
	dst.Seq = cur.Seq
	dst.Timestamp = cur.Timestamp

	s.snapshotted(true)
	return dst, nil
}

// Dimensions returns the dimensions of the current frame, or zeros when empty.
func (s *Slot) Dimensions() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return 0, 0
	}
	return s.frame.Width, s.frame.Height
}

// Seq returns the sequence number of the last publish (0 before the first).
func (s *Slot) Seq() uint64 {
	return s.seq.Load()
}

// Ready is closed after the first successful publish.
func (s *Slot) Ready() <-chan struct{} {
	return s.ready
}

func (s *Slot) rejected() {
	if s.observer != nil {
		s.observer.FrameRejected()
	}
}

func (s *Slot) snapshotted(ok bool) {
	if s.observer != nil {
		s.observer.Snapshot(ok)
	}
}
