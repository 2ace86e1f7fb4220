package monitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yzhangec/mavic-qrscan/internal/logger"
	"github.com/yzhangec/mavic-qrscan/internal/metrics"
	"github.com/yzhangec/mavic-qrscan/internal/render"
	"github.com/yzhangec/mavic-qrscan/internal/scanner"
	"github.com/yzhangec/mavic-qrscan/pkg/types"
)

// FrameBroadcaster renders the latest frame and fans the JPEG out to MJPEG clients.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	frames    FrameSource
	renderer  render.Renderer
	metrics   *metrics.Metrics
	interval  time.Duration
	stop      chan struct{}
	stopped   bool
	done      chan struct{}
	skipCount int // Ticks skipped while no clients were connected

	lastSeq uint64
	resend  atomic.Bool // a new client needs a frame even if the slot has not moved
	snap    types.Frame
}

// NewFrameBroadcaster creates a broadcaster that renders at most once per interval.
func NewFrameBroadcaster(frames FrameSource, renderer render.Renderer, m *metrics.Metrics, interval time.Duration) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		frames:   frames,
		renderer: renderer,
		metrics:  m,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch
	fb.metrics.ActiveClients.Add(1)
	fb.resend.Store(true)

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		fb.metrics.ActiveClients.Add(-1)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - rendering paused")
		}
	}
}

// Start begins the render and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the loop, disconnects every client and waits for the loop to exit.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if fb.stopped {
		fb.mu.Unlock()
		return
	}
	close(fb.stop)
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
		fb.metrics.ActiveClients.Add(-1)
	}
	fb.mu.Unlock()
	<-fb.done
}

func (fb *FrameBroadcaster) run() {
	defer close(fb.done)

	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}

		fb.mu.Lock()
		clientCount := len(fb.clients)
		fb.mu.Unlock()

		if clientCount == 0 {
			fb.skipCount++
			if fb.skipCount%100 == 0 {
				logger.Debug("FrameBroadcaster", "No clients connected (idle for %d ticks)", fb.skipCount)
			}
			continue
		}
		fb.skipCount = 0

		if data := fb.renderLatest(); data != nil {
			fb.broadcast(data)
		}
	}
}

// renderLatest returns a JPEG of the newest frame, or nil when there is
// nothing new to show.
func (fb *FrameBroadcaster) renderLatest() []byte {
	force := fb.resend.Swap(false)
	if !force && fb.frames.Seq() == fb.lastSeq {
		return nil
	}

	frame, err := fb.frames.SnapshotInto(&fb.snap)
	if err != nil {
		return nil
	}
	fb.lastSeq = frame.Seq

	data, err := fb.renderer.Render(frame, frame.ROI())
	if err != nil {
		fb.metrics.RenderErrors.Add(1)
		logger.Warn("FrameBroadcaster", "Render failed for frame #%d: %v", frame.Seq, err)
		return nil
	}
	fb.metrics.RenderedFrames.Add(1)
	return data
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
type SerializedEvent struct {
	Index        int
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// ResultBroadcaster forwards new result-log entries to SSE clients.
type ResultBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan *SerializedEvent
	nextID    int
	feed      ResultFeed
	sessionID string
	feedSub   int
	next      int // index of the first entry not yet forwarded
	stop      chan struct{}
	started   bool
	stopped   bool
	done      chan struct{}
}

// NewResultBroadcaster creates a broadcaster over feed.
func NewResultBroadcaster(feed ResultFeed, sessionID string) *ResultBroadcaster {
	return &ResultBroadcaster{
		clients:   make(map[int]chan *SerializedEvent),
		feed:      feed,
		sessionID: sessionID,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving result events.
func (rb *ResultBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	id := rb.nextID
	rb.nextID++
	ch := make(chan *SerializedEvent, 16)
	rb.clients[id] = ch

	logger.Debug("ResultBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(rb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (rb *ResultBroadcaster) Unsubscribe(id int) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if ch, ok := rb.clients[id]; ok {
		close(ch)
		delete(rb.clients, id)
		logger.Debug("ResultBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(rb.clients))
	}
}

// Backlog serializes the entries already in the log, starting at index from.
func (rb *ResultBroadcaster) Backlog(from int) []*SerializedEvent {
	entries := rb.feed.Entries(from)
	out := make([]*SerializedEvent, 0, len(entries))
	for _, e := range entries {
		if ev := rb.serialize(e); ev != nil {
			out = append(out, ev)
		}
	}
	return out
}

// Start subscribes to the result log and begins forwarding.
func (rb *ResultBroadcaster) Start() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.started {
		return
	}
	rb.started = true

	id, ch := rb.feed.Subscribe()
	rb.feedSub = id
	// Earlier entries reach clients through Backlog.
	rb.next = rb.feed.Len()
	go rb.run(ch)
}

// Stop halts forwarding and disconnects every client.
func (rb *ResultBroadcaster) Stop() {
	rb.mu.Lock()
	if rb.stopped {
		rb.mu.Unlock()
		return
	}
	rb.stopped = true
	close(rb.stop)
	started := rb.started
	for id, ch := range rb.clients {
		close(ch)
		delete(rb.clients, id)
	}
	rb.mu.Unlock()

	if started {
		rb.feed.Unsubscribe(rb.feedSub)
		<-rb.done
	}
}

func (rb *ResultBroadcaster) run(entries <-chan scanner.Entry) {
	defer close(rb.done)
	logger.Info("ResultBroadcaster", "Starting result event broadcaster...")

	for {
		select {
		case <-rb.stop:
			return
		case _, ok := <-entries:
			if !ok {
				return
			}
			// The notification is only a wake-up: notifications can be
			// dropped, so forward everything since the last forwarded entry.
			for _, e := range rb.feed.Entries(rb.next) {
				if ev := rb.serialize(e); ev != nil {
					rb.broadcast(ev)
				}
				rb.next = e.Index + 1
			}
		}
	}
}

func (rb *ResultBroadcaster) serialize(e scanner.Entry) *SerializedEvent {
	event := ResultEvent{
		EventID:   uuid.NewString(),
		SessionID: rb.sessionID,
		Index:     e.Index,
		Text:      e.Text,
		Timestamp: float64(e.Time.UnixMilli()) / 1000,
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		logger.Error("ResultBroadcaster", "JSON marshal error: %v", err)
		return nil
	}

	pbData, err := resultEventProto(event)
	if err != nil {
		logger.Error("ResultBroadcaster", "Protobuf marshal error: %v", err)
		return nil
	}

	return &SerializedEvent{
		Index:        e.Index,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}
}

// resultEventProto encodes the event as a google.protobuf.Struct with the
// same field names as the JSON form.
func resultEventProto(e ResultEvent) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"event_id":   e.EventID,
		"session_id": e.SessionID,
		"index":      e.Index,
		"text":       e.Text,
		"timestamp":  e.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(st)
}

func (rb *ResultBroadcaster) broadcast(event *SerializedEvent) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for id, ch := range rb.clients {
		select {
		case ch <- event:
		default:
			logger.Warn("ResultBroadcaster", "Client #%d too slow, dropped result #%d", id, event.Index)
		}
	}
}
