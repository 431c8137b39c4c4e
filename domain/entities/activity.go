package entities

import (
	"sync"
	"time"
)

const (
	DefaultActivityWindow     = 5 * time.Minute
	DefaultActivityMaxEntries = 512
)

// ActivityEvent marks the moment the speaking state changed to Kind.
type ActivityEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Kind      SpeakingState `json:"kind"`
	Detail    string        `json:"detail,omitempty"`
}

// ActivityLog is an append-only timeline bounded by age and entry count.
type ActivityLog struct {
	mu         sync.RWMutex
	events     []ActivityEvent
	window     time.Duration
	maxEntries int
}

// NewActivityLog creates a log. Zero values fall back to the defaults.
func NewActivityLog(window time.Duration, maxEntries int) *ActivityLog {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultActivityMaxEntries
	}
	return &ActivityLog{
		window:     window,
		maxEntries: maxEntries,
	}
}

// Append records an event and evicts anything outside the bounds.
func (l *ActivityLog) Append(ev ActivityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	l.trim(ev.Timestamp)
}

// Since returns events at or after t, oldest first.
func (l *ActivityLog) Since(t time.Time) []ActivityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ActivityEvent, 0, len(l.events))
	for _, ev := range l.events {
		if !ev.Timestamp.Before(t) {
			out = append(out, ev)
		}
	}
	return out
}

// Events returns a copy of the retained timeline.
func (l *ActivityLog) Events() []ActivityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ActivityEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of retained events.
func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *ActivityLog) trim(now time.Time) {
	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(l.events) && l.events[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if over := len(l.events) - drop - l.maxEntries; over > 0 {
		drop += over
	}
	if drop > 0 {
		l.events = append(l.events[:0:0], l.events[drop:]...)
	}
}
