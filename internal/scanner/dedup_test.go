package scanner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenSetFirstOccurrenceOrder(t *testing.T) {
	s := NewSeenSet()

	var reported []string
	for _, text := range []string{"A", "B", "A", "C"} {
		if s.Report(text) {
			reported = append(reported, text)
		}
	}

	assert.Equal(t, []string{"A", "B", "C"}, reported)
	assert.Equal(t, []string{"A", "B", "C"}, s.Log())
	assert.Equal(t, 3, s.Len())
}

func TestSeenSetIdempotent(t *testing.T) {
	s := NewSeenSet()
	assert.True(t, s.Report("X"))
	for i := 0; i < 10; i++ {
		assert.False(t, s.Report("X"))
	}
	assert.Equal(t, 1, s.Len())
}

func TestSeenSetEmptyPayload(t *testing.T) {
	s := NewSeenSet()
	assert.True(t, s.Report(""))
	assert.False(t, s.Report(""))
}

func TestSeenSetLogIsCopy(t *testing.T) {
	s := NewSeenSet()
	s.Report("A")
	log := s.Log()
	log[0] = "mutated"
	assert.Equal(t, []string{"A"}, s.Log())
}

func TestResultLogFormat(t *testing.T) {
	l := NewResultLog()
	assert.Equal(t, "", l.String())

	l.Append("A")
	l.Append("B")
	assert.Equal(t, "A\nB\n", l.String())
	assert.Equal(t, []string{"A", "B"}, l.Lines())
	assert.Equal(t, 2, l.Len())

	var b strings.Builder
	n, err := l.WriteTo(&b)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestResultLogEntries(t *testing.T) {
	l := NewResultLog()
	l.Append("A")
	l.Append("B")
	l.Append("C")

	got := l.Entries(1)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, "B", got[0].Text)
	assert.Nil(t, l.Entries(3))
	assert.Len(t, l.Entries(-5), 3)
}

func TestResultLogSubscribe(t *testing.T) {
	l := NewResultLog()
	l.Append("before")

	id, ch := l.Subscribe()
	l.Append("after")

	select {
	case e := <-ch:
		assert.Equal(t, "after", e.Text)
		assert.Equal(t, 1, e.Index)
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	l.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	// Unknown ids are ignored.
	l.Unsubscribe(id)
}

func TestResultLogSlowSubscriberDoesNotBlock(t *testing.T) {
	l := NewResultLog()
	_, _ = l.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			l.Append("x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}
	assert.Equal(t, 100, l.Len())
}
