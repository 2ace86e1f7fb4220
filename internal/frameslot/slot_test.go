package frameslot

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

func frameBytes(w, h int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, w*h*types.BytesPerPixel)
}

type countingObserver struct {
	published, rejected, resized, snapOK, snapFail atomic.Int64
}

func (o *countingObserver) FramePublished(int, int, int) { o.published.Add(1) }
func (o *countingObserver) FrameRejected()               { o.rejected.Add(1) }
func (o *countingObserver) BufferResized(int, int)       { o.resized.Add(1) }
func (o *countingObserver) Snapshot(ok bool) {
	if ok {
		o.snapOK.Add(1)
	} else {
		o.snapFail.Add(1)
	}
}

func TestSnapshotBeforePublish(t *testing.T) {
	s := New(nil)
	_, err := s.Snapshot()
	require.ErrorIs(t, err, ErrNotReady)

	w, h := s.Dimensions()
	assert.Zero(t, w)
	assert.Zero(t, h)
	assert.Zero(t, s.Seq())
}

// The first publish records its dimensions, so the very first frame is
// already consistent for readers.
func TestFirstPublishSetsDimensions(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Publish(frameBytes(100, 100, 0), 100, 100))

	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 100, f.Width)
	assert.Equal(t, 100, f.Height)
	assert.Len(t, f.Pixels, 100*100*4)
	assert.Equal(t, uint64(1), f.Seq)
	for i, b := range f.Pixels {
		if b != 0 {
			t.Fatalf("pixel byte %d = %d, want 0", i, b)
		}
	}
}

func TestPublishShrinksBuffer(t *testing.T) {
	obs := &countingObserver{}
	s := New(obs)
	require.NoError(t, s.Publish(frameBytes(100, 100, 1), 100, 100))
	require.NoError(t, s.Publish(frameBytes(50, 50, 2), 50, 50))

	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 50, f.Width)
	assert.Equal(t, 50, f.Height)
	require.Len(t, f.Pixels, 50*50*4)
	assert.Equal(t, frameBytes(50, 50, 2), f.Pixels)
	assert.Equal(t, int64(1), obs.resized.Load())
}

func TestLastWriterWins(t *testing.T) {
	s := New(nil)
	for i := 1; i <= 10; i++ {
		require.NoError(t, s.Publish(frameBytes(8, 4, byte(i)), 8, 4))
	}

	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, frameBytes(8, 4, 10), f.Pixels)
	assert.Equal(t, uint64(10), f.Seq)
}

func TestPublishCopiesCallerBuffer(t *testing.T) {
	s := New(nil)
	buf := frameBytes(2, 2, 7)
	require.NoError(t, s.Publish(buf, 2, 2))

	buf[0] = 99
	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, byte(7), f.Pixels[0])
}

func TestSnapshotIsNotAlias(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Publish(frameBytes(2, 2, 5), 2, 2))

	a, err := s.Snapshot()
	require.NoError(t, err)
	a.Pixels[0] = 0

	b, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, byte(5), b.Pixels[0])
}

func TestPublishRejectsPartialPixels(t *testing.T) {
	obs := &countingObserver{}
	s := New(obs)
	err := s.Publish(make([]byte, 7), 1, 1)
	require.ErrorIs(t, err, ErrPixelFormat)

	err = s.Publish(frameBytes(1, 1, 0), -1, 1)
	require.ErrorIs(t, err, ErrInvalidDimensions)

	assert.Equal(t, int64(2), obs.rejected.Load())
	assert.Zero(t, s.Seq())
	select {
	case <-s.Ready():
		t.Fatalf("slot reported ready after rejected publishes")
	default:
	}
}

func TestMismatchedFrameIsNotReady(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Publish(frameBytes(10, 10, 1), 10, 10))

	// Decoder hands over a buffer that disagrees with its own dimensions.
	require.NoError(t, s.Publish(frameBytes(10, 10, 2), 20, 20))
	_, err := s.Snapshot()
	require.True(t, errors.Is(err, ErrNotReady))

	require.NoError(t, s.Publish(frameBytes(20, 20, 3), 20, 20))
	f, err := s.Snapshot()
	require.NoError(t, err)
	assert.True(t, f.Valid())
}

func TestSnapshotIntoReusesBuffer(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Publish(frameBytes(4, 4, 1), 4, 4))

	dst := &types.Frame{Pixels: make([]byte, 0, 1024)}
	f, err := s.SnapshotInto(dst)
	require.NoError(t, err)
	assert.Same(t, dst, f)
	assert.Equal(t, 1024, cap(f.Pixels))
	assert.Len(t, f.Pixels, 4*4*4)
}

func TestReadyClosesOnFirstPublish(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Publish(frameBytes(1, 1, 0), 1, 1))
	select {
	case <-s.Ready():
	default:
		t.Fatalf("Ready not closed after first publish")
	}
	// A second publish must not panic on a closed channel.
	require.NoError(t, s.Publish(frameBytes(1, 1, 0), 1, 1))
}

func TestConcurrentPublishSnapshotConsistency(t *testing.T) {
	s := New(nil)
	sizes := [][2]int{{16, 16}, {32, 8}, {7, 3}, {64, 64}}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			sz := sizes[i%len(sizes)]
			w, h := sz[0], sz[1]
			// Every fifth frame is inconsistent on purpose.
			if i%5 == 0 {
				w++
			}
			_ = s.Publish(frameBytes(sz[0], sz[1], byte(i)), w, h)
		}
		close(stop)
	}()

	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var dst types.Frame
			for {
				select {
				case <-stop:
					return
				default:
				}
				f, err := s.SnapshotInto(&dst)
				if err != nil {
					continue
				}
				if len(f.Pixels) != f.Width*f.Height*types.BytesPerPixel {
					t.Errorf("torn snapshot: %dx%d with %d bytes", f.Width, f.Height, len(f.Pixels))
					return
				}
			}
		}()
	}

	wg.Wait()
}
