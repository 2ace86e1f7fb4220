package scanner

import (
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one line of the result log.
type Entry struct {
	Index int       `json:"index"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// ResultLog is the append-only, newline-delimited output of unique payloads.
// The scan worker appends; display and HTTP readers may read concurrently.
type ResultLog struct {
	mu      sync.Mutex
	entries []Entry
	clients map[int]chan Entry
	nextID  int
}

// NewResultLog creates an empty log.
func NewResultLog() *ResultLog {
	return &ResultLog{clients: make(map[int]chan Entry)}
}

// Append adds a line and notifies subscribers without blocking.
func (l *ResultLog) Append(text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{Index: len(l.entries), Text: text, Time: time.Now()}
	l.entries = append(l.entries, e)

	for _, ch := range l.clients {
		select {
		case ch <- e:
		default:
			// Slow subscriber; it can resync from Entries.
		}
	}
	return e
}

// Lines returns the logged payloads in order.
func (l *ResultLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Text
	}
	return out
}

// Entries returns a copy of the log starting at index from.
func (l *ResultLog) Entries(from int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if from < 0 {
		from = 0
	}
	if from >= len(l.entries) {
		return nil
	}
	out := make([]Entry, len(l.entries)-from)
	copy(out, l.entries[from:])
	return out
}

// Len returns the number of lines.
func (l *ResultLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// String renders the log as "A\nB\n".
func (l *ResultLog) String() string {
	var b strings.Builder
	_, _ = l.WriteTo(&b)
	return b.String()
}

// WriteTo writes every line followed by a newline.
func (l *ResultLog) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, line := range l.Lines() {
		n, err := io.WriteString(w, line+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Subscribe returns a channel receiving entries appended from now on.
func (l *ResultLog) Subscribe() (int, <-chan Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	ch := make(chan Entry, 16)
	l.clients[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *ResultLog) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.clients[id]; ok {
		close(ch)
		delete(l.clients, id)
	}
}
