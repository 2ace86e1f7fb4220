package scanner

// Deduplicator decides whether a decoded payload is reported.
type Deduplicator interface {
	// Report returns true the first time text is seen and false afterwards.
	Report(text string) bool
}

// SeenSet remembers every payload ever reported, in first-seen order.
// It grows for the life of the process. Not safe for concurrent use;
// the scan worker is its only writer.
type SeenSet struct {
	seen  map[string]struct{}
	order []string
}

// NewSeenSet creates an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{seen: make(map[string]struct{})}
}

// Report implements Deduplicator.
func (s *SeenSet) Report(text string) bool {
	if _, ok := s.seen[text]; ok {
		return false
	}
	s.seen[text] = struct{}{}
	s.order = append(s.order, text)
	return true
}

// Log returns the first occurrences in order.
func (s *SeenSet) Log() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of distinct payloads seen.
func (s *SeenSet) Len() int {
	return len(s.order)
}
