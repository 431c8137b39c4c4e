package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
)

type fakeTransport struct {
	mu         sync.Mutex
	onMessage  func(domain.Event)
	onState    func(entities.ConnState)
	state      entities.ConnState
	sent       []domain.ClientEvent
	connectErr error
	closed     int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: entities.ConnStateIdle}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.setState(entities.ConnStateConnecting)
	if f.connectErr != nil {
		f.setState(entities.ConnStateFailed)
		return f.connectErr
	}
	f.setState(entities.ConnStateOpen)
	return nil
}

func (f *fakeTransport) Send(event domain.ClientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != entities.ConnStateOpen {
		return domain.ErrNotConnected
	}
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeTransport) OnMessage(handler func(domain.Event)) { f.onMessage = handler }

func (f *fakeTransport) OnStateChange(handler func(entities.ConnState)) { f.onState = handler }

func (f *fakeTransport) State() entities.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	terminal := f.state.Terminal()
	f.mu.Unlock()
	if !terminal {
		f.setState(entities.ConnStateClosed)
	}
	return nil
}

func (f *fakeTransport) setState(s entities.ConnState) {
	f.mu.Lock()
	f.state = s
	handler := f.onState
	f.mu.Unlock()
	if handler != nil {
		handler(s)
	}
}

func (f *fakeTransport) emit(events ...domain.Event) {
	for _, ev := range events {
		f.onMessage(ev)
	}
}

func (f *fakeTransport) sentEvents() []domain.ClientEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ClientEvent(nil), f.sent...)
}

func (f *fakeTransport) countSent(eventType string) int {
	n := 0
	for _, ev := range f.sentEvents() {
		if ev.ClientEventType() == eventType {
			n++
		}
	}
	return n
}

type fakePlayer struct {
	mu      sync.Mutex
	frames  int
	busy    bool
	stopped bool
	onEmpty func()
}

func (p *fakePlayer) Enqueue(frame entities.AudioFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return domain.ErrSessionStopped
	}
	p.frames++
	p.busy = true
	return nil
}

func (p *fakePlayer) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *fakePlayer) OnQueueEmpty(fn func()) {
	p.mu.Lock()
	p.onEmpty = fn
	p.mu.Unlock()
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.busy = false
	p.mu.Unlock()
	return nil
}

// drain simulates the queue running dry.
func (p *fakePlayer) drain() {
	p.mu.Lock()
	p.busy = false
	fn := p.onEmpty
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakePlayer) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeRecorder struct {
	mu      sync.Mutex
	onFrame func(entities.AudioFrame)
	stops   int
	err     error
}

func (r *fakeRecorder) Start(onFrame func(entities.AudioFrame)) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.onFrame = onFrame
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	r.onFrame = nil
	r.stops++
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) push(frame entities.AudioFrame) {
	r.mu.Lock()
	fn := r.onFrame
	r.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func (r *fakeRecorder) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

// flush waits until the loop has processed everything posted so far.
func flush(t *testing.T, s *ConversationService) {
	t.Helper()
	done := make(chan struct{})
	s.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("loop did not drain")
	}
}
