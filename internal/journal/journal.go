// Package journal keeps a bounded, thread-safe in-memory record of
// control-plane events, scoped by head name. Events that the lifecycle
// operations intentionally do not surface to callers (async network start
// failures, monitor socket loss) land here so operators can still see them.
package journal

import (
	"sync"
	"time"
)

// Event is a single recorded control-plane event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Head      string    `json:"head,omitempty"`
	Level     string    `json:"level"` // info, warning, error
	Text      string    `json:"text"`
}

// Journal manages the bounded event ring.
type Journal struct {
	mu      sync.RWMutex
	events  []Event
	maxSize int
}

// New creates a journal retaining at most maxSize events.
func New(maxSize int) *Journal {
	return &Journal{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record appends an event, evicting the oldest entries beyond maxSize.
func (j *Journal) Record(level, head, text string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, Event{
		Timestamp: time.Now(),
		Head:      head,
		Level:     level,
		Text:      text,
	})

	if len(j.events) > j.maxSize {
		j.events = j.events[len(j.events)-j.maxSize:]
	}
}

// Info records an info-level event for a head.
func (j *Journal) Info(head, text string) {
	j.Record("info", head, text)
}

// Warning records a warning-level event for a head.
func (j *Journal) Warning(head, text string) {
	j.Record("warning", head, text)
}

// Error records an error-level event for a head.
func (j *Journal) Error(head, text string) {
	j.Record("error", head, text)
}

// Recent returns the most recent n events (newest first).
func (j *Journal) Recent(n int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n > len(j.events) {
		n = len(j.events)
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		result[i] = j.events[len(j.events)-1-i]
	}
	return result
}

// All returns every retained event (newest first).
func (j *Journal) All() []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	result := make([]Event, len(j.events))
	for i := range j.events {
		result[i] = j.events[len(j.events)-1-i]
	}
	return result
}
