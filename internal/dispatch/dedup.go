package dispatch

import (
	"strconv"
	"strings"
	"sync"
)

// DedupSet tracks the events already logged within one session so an
// equivalent event is not re-logged. Cleared on new session.
type DedupSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupSet creates an empty session dedup set.
func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[string]struct{})}
}

// Add records key and reports whether it was new.
func (s *DedupSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Len returns the number of tracked keys.
func (s *DedupSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Clear empties the set.
func (s *DedupSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]struct{})
}

// dedupKey fingerprints one event as (event_type, comments, primary value
// field). The primary field is value for expenses, calories for meals and
// workout for workouts. Two distinct events with equal fingerprints collide
// and the second is suppressed; that is the accepted tradeoff.
func dedupKey(record map[string]any) string {
	eventType, _ := record["event_type"].(string)

	var primary any
	switch eventType {
	case "expense":
		primary = record["value"]
	case "meal":
		primary = record["calories"]
	case "workout":
		primary = record["workout"]
	}

	comments, _ := record["comments"].(string)
	return strings.Join([]string{eventType, comments, formatValue(primary)}, "|")
}

// formatValue renders a primitive deterministically: 250 and 250.0 must
// produce the same fingerprint.
func formatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return ""
	}
}
