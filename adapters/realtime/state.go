package realtime

import (
	"sync"

	"github.com/satriahrh/voicebridge/domain/entities"
)

// StateTracker holds a connection state and notifies observers of changes.
// Notifications are serialized, so observers see transitions in order.
type StateTracker struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	state    entities.ConnState
	handlers []func(entities.ConnState)
}

// NewStateTracker starts in idle.
func NewStateTracker() *StateTracker {
	return &StateTracker{state: entities.ConnStateIdle}
}

// Observe registers a handler for future transitions.
func (t *StateTracker) Observe(handler func(entities.ConnState)) {
	if handler == nil {
		return
	}
	t.mu.Lock()
	t.handlers = append(t.handlers, handler)
	t.mu.Unlock()
}

// State returns the current state.
func (t *StateTracker) State() entities.ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set moves to state and notifies observers. It reports false when the state
// was already current.
func (t *StateTracker) Set(state entities.ConnState) bool {
	return t.set(state, true)
}

// SetUnlessTerminal is Set, except that closed and failed are sticky.
func (t *StateTracker) SetUnlessTerminal(state entities.ConnState) bool {
	return t.set(state, false)
}

func (t *StateTracker) set(state entities.ConnState, fromTerminal bool) bool {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.state == state || (!fromTerminal && t.state.Terminal()) {
		t.mu.Unlock()
		return false
	}
	t.state = state
	handlers := make([]func(entities.ConnState), len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
	return true
}
