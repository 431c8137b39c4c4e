package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	states []entities.ConnState
}

func (r *recorder) onEvent(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) onState(s entities.ConnState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]domain.Event, []entities.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...), append([]entities.ConnState(nil), r.states...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created","session":{"id":"sess_1"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"input_audio_buffer.speech_started"}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- PeekType(msg)
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	tr := NewWebSocketTransport(WebSocketConfig{
		URL:    wsURL(srv),
		Header: http.Header{"api-key": []string{"secret"}},
	}, zaptest.NewLogger(t))
	tr.OnMessage(rec.onEvent)
	tr.OnStateChange(rec.onState)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 3
	})
	events, _ := rec.snapshot()
	if _, ok := events[0].(domain.SessionReady); !ok {
		t.Errorf("first event should be SessionReady, got %T", events[0])
	}
	if _, ok := events[1].(domain.MalformedEvent); !ok {
		t.Errorf("second event should be MalformedEvent, got %T", events[1])
	}
	if _, ok := events[2].(domain.SpeechStarted); !ok {
		t.Errorf("third event should be SpeechStarted, got %T", events[2])
	}

	if err := tr.Send(domain.ResponseCreate{}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	select {
	case typ := <-received:
		if typ != "response.create" {
			t.Errorf("server got %q", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the event")
	}

	tr.Close()
	tr.Close()
	if err := tr.Send(domain.ResponseCreate{}); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Send after Close should fail with ErrNotConnected, got %v", err)
	}

	_, states := rec.snapshot()
	want := []entities.ConnState{entities.ConnStateConnecting, entities.ConnStateOpen, entities.ConnStateClosed}
	if len(states) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Expected states %v, got %v", want, states)
			break
		}
	}
}

func TestWebSocketTransportAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)}, zaptest.NewLogger(t))
	err := tr.Connect(context.Background())
	if !errors.Is(err, domain.ErrAuth) {
		t.Errorf("Expected ErrAuth, got %v", err)
	}
	if tr.State() != entities.ConnStateFailed {
		t.Errorf("Expected failed state, got %s", tr.State())
	}
}

func TestWebSocketTransportNetworkError(t *testing.T) {
	tr := NewWebSocketTransport(WebSocketConfig{URL: "ws://127.0.0.1:1/nothing"}, zaptest.NewLogger(t))
	if err := tr.Connect(context.Background()); !errors.Is(err, domain.ErrNetwork) {
		t.Errorf("Expected ErrNetwork, got %v", err)
	}
}

func TestWebSocketTransportFailsAfterDeliveringEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio_transcript.delta","delta":"bye"}`))
		// drop the TCP connection without a close frame
		conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	rec := &recorder{}
	tr := NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)}, zaptest.NewLogger(t))
	tr.OnMessage(rec.onEvent)
	tr.OnStateChange(rec.onState)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	defer tr.Close()

	eventually(t, func() bool { return tr.State() == entities.ConnStateFailed })
	events, _ := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("Expected the delta to be delivered before failing, got %d events", len(events))
	}
}

func TestReconnectingRedialsAfterLoss(t *testing.T) {
	var mu sync.Mutex
	connections := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		if n == 1 {
			conn.UnderlyingConn().Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	rec := &recorder{}
	tr := NewReconnecting(func() repositories.Transport {
		return NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)}, logger)
	}, ReconnectConfig{Interval: 10 * time.Millisecond}, logger)
	tr.OnMessage(rec.onEvent)
	tr.OnStateChange(rec.onState)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	eventually(t, func() bool {
		events, states := rec.snapshot()
		return len(events) == 2 && len(states) == 4
	})
	_, states := rec.snapshot()
	want := []entities.ConnState{
		entities.ConnStateConnecting, entities.ConnStateOpen,
		entities.ConnStateConnecting, entities.ConnStateOpen,
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("Expected states %v, got %v", want, states)
		}
	}

	if err := tr.Send(domain.ResponseCreate{}); err != nil {
		t.Errorf("Send on the new link returned error: %v", err)
	}
	tr.Close()
	if tr.State() != entities.ConnStateClosed {
		t.Errorf("Expected closed, got %s", tr.State())
	}
}
