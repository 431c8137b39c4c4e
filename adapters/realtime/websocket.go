package realtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum inbound message size. Audio deltas are a few tens of KB.
	maxMessageSize = 4 * 1024 * 1024

	defaultSendBuffer      = 256
	defaultEventBuffer     = 256
	defaultHandshakeTimeout = 15 * time.Second
)

// WebSocketConfig configures a WebSocketTransport.
// - URL: wss:// endpoint of the provider or ws(s):// endpoint of the relay
// - Header: handshake headers (api-key, Authorization)
// - HandshakeTimeout: default 15s
// - SendBuffer: outbound queue length (default: 256)
type WebSocketConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	SendBuffer       int
}

// WebSocketTransport carries realtime events over a single websocket.
type WebSocketTransport struct {
	config WebSocketConfig
	logger *zap.Logger
	state  *StateTracker

	mu      sync.Mutex
	conn    *websocket.Conn
	handler func(domain.Event)

	send      chan []byte
	events    chan domain.Event
	closeCh   chan struct{}
	closeOnce sync.Once
	closing   bool
	wg        sync.WaitGroup
}

var _ repositories.Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport creates an unconnected transport.
func NewWebSocketTransport(config WebSocketConfig, logger *zap.Logger) *WebSocketTransport {
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaultSendBuffer
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &WebSocketTransport{
		config:  config,
		logger:  logger,
		state:   NewStateTracker(),
		send:    make(chan []byte, config.SendBuffer),
		events:  make(chan domain.Event, defaultEventBuffer),
		closeCh: make(chan struct{}),
	}
}

func (t *WebSocketTransport) OnMessage(handler func(domain.Event)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

func (t *WebSocketTransport) OnStateChange(handler func(entities.ConnState)) {
	t.state.Observe(handler)
}

func (t *WebSocketTransport) State() entities.ConnState {
	return t.state.State()
}

// Connect dials the endpoint and starts the pumps.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if t.state.State() != entities.ConnStateIdle {
		return fmt.Errorf("failed to connect: transport already used (%s)", t.state.State())
	}
	t.state.Set(entities.ConnStateConnecting)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.config.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, t.config.URL, t.config.Header)
	if err != nil {
		t.state.Set(entities.ConnStateFailed)
		return classifyDialError(resp, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readPump()
	go t.writePump()
	go t.dispatch()

	t.state.Set(entities.ConnStateOpen)
	t.logger.Info("Realtime websocket connected", zap.String("url", redactURL(t.config.URL)))
	return nil
}

func classifyDialError(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("failed to connect: %w: %v", domain.ErrNetwork, err)
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("failed to connect: %w: handshake status %d", domain.ErrAuth, resp.StatusCode)
	default:
		return fmt.Errorf("failed to connect: %w: handshake status %d", domain.ErrProtocol, resp.StatusCode)
	}
}

// Send queues an outbound event. It never blocks.
func (t *WebSocketTransport) Send(event domain.ClientEvent) error {
	if t.state.State() != entities.ConnStateOpen {
		return domain.ErrNotConnected
	}
	data, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	select {
	case <-t.closeCh:
		return domain.ErrNotConnected
	case t.send <- data:
		return nil
	default:
		return fmt.Errorf("failed to send %s: %w: send buffer full", event.ClientEventType(), domain.ErrNetwork)
	}
}

// Close shuts the connection down. Safe to call repeatedly.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closing = true
		conn := t.conn
		t.mu.Unlock()

		close(t.closeCh)
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			err = conn.Close()
		}
		t.wg.Wait()
		t.state.SetUnlessTerminal(entities.ConnStateClosed)
	})
	return err
}

func (t *WebSocketTransport) readPump() {
	defer t.wg.Done()
	defer close(t.events)

	t.conn.SetReadLimit(maxMessageSize)
	for {
		messageType, message, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			t.mu.Unlock()
			if closing {
				return
			}
			var marker domain.Event = failedMarker{err: err}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Info("Realtime websocket closed by peer", zap.Error(err))
				marker = closedMarker{}
			} else {
				t.logger.Error("Realtime websocket read failed", zap.Error(err))
			}
			select {
			case t.events <- marker:
			case <-t.closeCh:
			}
			return
		}

		var event domain.Event
		switch messageType {
		case websocket.TextMessage:
			event = DecodeEvent(message)
		case websocket.BinaryMessage:
			frame, ferr := entities.NewAudioFrame(message)
			if ferr != nil {
				event = domain.MalformedEvent{Raw: message, Err: fmt.Errorf("%w: %v", domain.ErrProtocol, ferr)}
			} else {
				event = domain.AudioDelta{Frame: frame}
			}
		default:
			continue
		}

		select {
		case t.events <- event:
		case <-t.closeCh:
			return
		}
	}
}

func (t *WebSocketTransport) writePump() {
	defer t.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.closeCh:
			return
		case data := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Error("Failed to write realtime event", zap.Error(err))
				t.conn.Close()
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.conn.Close()
				return
			}
		}
	}
}

// dispatch delivers events to the handler one at a time, in receipt order,
// and publishes the terminal state only after everything read before the
// failure has been delivered.
func (t *WebSocketTransport) dispatch() {
	for event := range t.events {
		switch m := event.(type) {
		case closedMarker:
			t.state.SetUnlessTerminal(entities.ConnStateClosed)
			continue
		case failedMarker:
			t.logger.Warn("Realtime transport failed", zap.Error(m.err))
			t.state.SetUnlessTerminal(entities.ConnStateFailed)
			continue
		}

		select {
		case <-t.closeCh:
			continue
		default:
		}

		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()
		if handler != nil {
			handler(event)
		}
	}
}

// closedMarker and failedMarker travel through the event queue so the state
// change is ordered after earlier events. They never reach the handler.
type closedMarker struct{ domain.Ignored }
type failedMarker struct {
	domain.Ignored
	err error
}

func redactURL(raw string) string {
	base, _, _ := strings.Cut(raw, "?")
	return base
}
