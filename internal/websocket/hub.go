package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/voicebridge/adapters/realtime"
	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Time allowed to reach the provider.
	dialTimeout = 20 * time.Second

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var (
	errClientClosed   = errors.New("client closed the connection")
	errUpstreamClosed = errors.New("upstream closed the connection")
	errStopRequested  = errors.New("client requested stop")
	errIdle           = errors.New("relay idle")
	errHubShutdown    = errors.New("hub shutting down")
)

// Hub maintains the set of active relays.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	upstream UpstreamDialer
	session  domain.SessionConfig
	logger   *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new relay hub. session is sent upstream on every relay
// before the client is told it is ready.
func NewHub(upstream UpstreamDialer, session domain.SessionConfig, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upstream:   upstream,
		session:    session,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			metrics.RelaySessionStarted()
			h.logger.Info("Relay registered",
				zap.String("relayID", client.id),
				zap.String("clientID", client.clientID))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.id]
			delete(h.clients, client.id)
			h.mu.Unlock()
			if ok {
				metrics.RelaySessionEnded()
				h.logger.Info("Relay unregistered", zap.String("relayID", client.id))
			}

		case <-h.done:
			return
		}
	}
}

// Count returns the number of live relays.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseIdle closes relays with no traffic since cutoff and returns how many.
func (h *Hub) CloseIdle(cutoff time.Time) int {
	h.mu.RLock()
	var idle []*Client
	for _, c := range h.clients {
		if c.lastActivity().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range idle {
		h.logger.Info("Closing idle relay",
			zap.String("relayID", c.id),
			zap.Time("lastActivity", c.lastActivity()))
		c.shutdown(errIdle)
	}
	return len(idle)
}

// Shutdown closes every relay and stops Run.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.RUnlock()
		for _, c := range clients {
			c.shutdown(errHubShutdown)
		}
		close(h.done)
	})
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is one relay: a client websocket paired with a provider websocket.
type Client struct {
	hub *Hub

	id       string
	clientID string

	// The websocket connections.
	conn     *websocket.Conn
	upstream *websocket.Conn

	// Buffered channels of outbound messages.
	send         chan WriteData
	upstreamSend chan []byte

	logger *zap.Logger

	activity atomic.Int64
	cancel   context.CancelCauseFunc
	mu       sync.Mutex
}

// HandleWebSocketWithAuth upgrades an authenticated request and starts a relay.
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, clientID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:          hub,
		id:           uuid.NewString(),
		clientID:     clientID,
		conn:         conn,
		send:         make(chan WriteData, sendBufferSize),
		upstreamSend: make(chan []byte, sendBufferSize),
		logger:       logger.With(zap.String("clientID", clientID)),
	}
	client.touch()

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.run()

	return nil
}

func (c *Client) run() {
	ctx, cancel := context.WithCancelCause(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel(nil)

	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.rejectAndClose("shutting_down", "relay is shutting down")
		return
	}
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	}()

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	upstream, err := c.hub.upstream.Dial(dialCtx)
	dialCancel()
	if err != nil {
		c.logger.Error("Failed to reach provider", zap.Error(err))
		code := "upstream_unavailable"
		if errors.Is(err, domain.ErrAuth) {
			code = "upstream_auth_failed"
		}
		c.rejectAndClose(code, err.Error())
		return
	}
	c.upstream = upstream

	update, err := realtime.EncodeEvent(domain.SessionUpdate{Config: c.hub.session})
	if err != nil {
		c.logger.Error("Failed to encode session configuration", zap.Error(err))
		c.rejectAndClose("internal_error", "failed to configure session")
		upstream.Close()
		return
	}
	c.upstreamSend <- update
	c.send <- WriteData{Type: websocket.TextMessage, Payload: CreateReadyMessage(c.id)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(gctx) })
	g.Go(func() error { return c.upstreamReadPump(gctx) })
	g.Go(func() error { return c.writePump(gctx) })
	g.Go(func() error { return c.upstreamWritePump(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		c.conn.Close()
		c.upstream.Close()
		return nil
	})

	reason := errClientClosed
	if err := g.Wait(); err != nil {
		reason = err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		reason = cause
	}
	c.logger.Info("Relay ended", zap.String("relayID", c.id), zap.String("reason", reason.Error()))
}

// shutdown ends the relay from outside its goroutines.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, cause.Error()),
			time.Now().Add(writeWait))
		cancel(cause)
	}
}

func (c *Client) rejectAndClose(code, message string) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.TextMessage, CreateErrorMessage(code, message))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, code))
	c.conn.Close()
}

func (c *Client) touch() {
	c.activity.Store(time.Now().UnixNano())
}

func (c *Client) lastActivity() time.Time {
	return time.Unix(0, c.activity.Load())
}

// readPump pumps messages from the client to the provider. A full upstream
// buffer stalls the pump rather than dropping audio.
func (c *Client) readPump(ctx context.Context) error {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return errClientClosed
		}
		c.touch()

		var payload []byte
		switch messageType {
		case websocket.TextMessage:
			action, forward, perr := ParseClientMessage(message)
			if perr != nil {
				c.logger.Warn("Rejected client message", zap.Error(perr))
				if err := c.reply(ctx, CreateErrorMessage("invalid_message", perr.Error())); err != nil {
					return nil
				}
				continue
			}
			switch action {
			case ActionStop:
				c.logger.Info("Client requested stop")
				return errStopRequested
			case ActionPong:
				if err := c.reply(ctx, CreatePongMessage()); err != nil {
					return nil
				}
				continue
			}
			payload = forward

		case websocket.BinaryMessage:
			payload, err = EncodeBinaryAudio(message)
			if err != nil {
				if err := c.reply(ctx, CreateErrorMessage("invalid_message", err.Error())); err != nil {
					return nil
				}
				continue
			}

		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
			continue
		}

		metrics.RecordRelayMessage("client", realtime.PeekType(payload))
		select {
		case c.upstreamSend <- payload:
		case <-ctx.Done():
			return nil
		}
	}
}

// upstreamReadPump forwards provider events to the client unchanged and in
// order; a slow client stalls it instead of losing events.
func (c *Client) upstreamReadPump(ctx context.Context) error {
	c.upstream.SetReadLimit(4 * maxMessageSize)
	for {
		_, message, err := c.upstream.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("Upstream read failed", zap.Error(err))
			}
			return errUpstreamClosed
		}
		c.touch()
		metrics.RecordRelayMessage("upstream", realtime.PeekType(message))
		if err := c.reply(ctx, message); err != nil {
			return nil
		}
	}
}

// reply queues a text message for the client, waiting for room until the
// relay ends.
func (c *Client) reply(ctx context.Context, payload []byte) error {
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// writePump pumps messages from the relay to the client connection.
func (c *Client) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return errClientClosed
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return errClientClosed
			}

		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

// upstreamWritePump is the only writer on the provider connection.
func (c *Client) upstreamWritePump(ctx context.Context) error {
	for {
		select {
		case message := <-c.upstreamSend:
			c.upstream.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.upstream.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("Failed to write upstream", zap.Error(err))
				return errUpstreamClosed
			}

		case <-ctx.Done():
			c.upstream.SetWriteDeadline(time.Now().Add(writeWait))
			c.upstream.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}
