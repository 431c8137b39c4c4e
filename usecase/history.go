package usecase

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/voicebridge/domain/entities"
)

// History is the ordered transcript of one session: sealed messages plus at
// most one open AI message still receiving deltas. Only the session loop
// mutates it; reads are safe from anywhere.
type History struct {
	clock clock.Clock

	mu          sync.RWMutex
	sealed      []entities.TranscriptMessage
	open        *entities.TranscriptMessage
	subscribers map[int]func()
	nextSubID   int
}

// NewHistory creates an empty history.
func NewHistory(clk clock.Clock) *History {
	if clk == nil {
		clk = clock.New()
	}
	return &History{
		clock:       clk,
		subscribers: make(map[int]func()),
	}
}

// AddUserMessage appends a sealed user utterance.
func (h *History) AddUserMessage(text string) {
	h.mu.Lock()
	h.sealed = append(h.sealed, entities.TranscriptMessage{
		Role:      entities.MessageRoleUser,
		Content:   text,
		CreatedAt: h.clock.Now(),
		Sealed:    true,
	})
	h.mu.Unlock()
	h.notify()
}

// AppendAI appends a delta to the open AI message, opening one if needed.
// A delta carrying a different response id seals the open message first.
func (h *History) AppendAI(responseID, delta string) {
	h.mu.Lock()
	if h.open != nil && responseID != "" && h.open.ResponseID != "" && h.open.ResponseID != responseID {
		h.sealLocked()
	}
	if h.open == nil {
		h.open = &entities.TranscriptMessage{
			ResponseID: responseID,
			Role:       entities.MessageRoleAI,
			CreatedAt:  h.clock.Now(),
		}
	}
	if h.open.ResponseID == "" {
		h.open.ResponseID = responseID
	}
	h.open.Content += delta
	h.mu.Unlock()
	h.notify()
}

// SealAI closes the open AI message. It reports whether one was open.
func (h *History) SealAI() bool {
	h.mu.Lock()
	sealed := h.sealLocked()
	h.mu.Unlock()
	if sealed {
		h.notify()
	}
	return sealed
}

func (h *History) sealLocked() bool {
	if h.open == nil {
		return false
	}
	msg := *h.open
	msg.Sealed = true
	h.sealed = append(h.sealed, msg)
	h.open = nil
	return true
}

// Messages returns a copy of the log. The open AI message, if any, is
// appended last when includeOpen is set.
func (h *History) Messages(includeOpen bool) []entities.TranscriptMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]entities.TranscriptMessage, len(h.sealed), len(h.sealed)+1)
	copy(out, h.sealed)
	if includeOpen && h.open != nil {
		out = append(out, *h.open)
	}
	return out
}

// Open returns the AI message still receiving deltas.
func (h *History) Open() (entities.TranscriptMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.open == nil {
		return entities.TranscriptMessage{}, false
	}
	return *h.open, true
}

// Subscribe registers fn to run after every change. The returned func
// unsubscribes.
func (h *History) Subscribe(fn func()) func() {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
	}
}

func (h *History) notify() {
	h.mu.RLock()
	subs := make([]func(), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}
