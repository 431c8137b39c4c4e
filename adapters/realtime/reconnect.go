package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

// ReconnectConfig tunes the reconnect policy.
// - MaxAttempts: dials per outage before giving up (default: 5)
// - Interval: minimum spacing between dials (default: 2s)
// - DialTimeout: per-attempt connect timeout (default: 15s)
type ReconnectConfig struct {
	MaxAttempts int
	Interval    time.Duration
	DialTimeout time.Duration
}

// Reconnecting wraps a transport factory and re-dials after an unexpected
// close or failure. Observers see connecting followed by a fresh open; the
// events of the dead link are all delivered before that.
type Reconnecting struct {
	factory func() repositories.Transport
	config  ReconnectConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	state   *StateTracker

	mu      sync.Mutex
	current repositories.Transport
	handler func(domain.Event)
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ repositories.Transport = (*Reconnecting)(nil)

// NewReconnecting creates a reconnecting transport.
func NewReconnecting(factory func() repositories.Transport, config ReconnectConfig, logger *zap.Logger) *Reconnecting {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconnecting{
		factory: factory,
		config:  config,
		limiter: rate.NewLimiter(rate.Every(config.Interval), 1),
		logger:  logger,
		state:   NewStateTracker(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (r *Reconnecting) OnMessage(handler func(domain.Event)) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

func (r *Reconnecting) OnStateChange(handler func(entities.ConnState)) {
	r.state.Observe(handler)
}

func (r *Reconnecting) State() entities.ConnState {
	return r.state.State()
}

// Connect performs the first dial. A first-dial failure is returned as is,
// without retries.
func (r *Reconnecting) Connect(ctx context.Context) error {
	r.state.Set(entities.ConnStateConnecting)
	r.limiter.Allow()

	t, err := r.dial(ctx)
	if err != nil {
		r.state.Set(entities.ConnStateFailed)
		return err
	}
	r.adopt(t)
	return nil
}

// adopt makes t the active link and publishes open. A link that died between
// its Connect returning and adoption is handed straight to handleLoss.
func (r *Reconnecting) adopt(t repositories.Transport) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return false
	}
	r.current = t
	r.mu.Unlock()

	r.state.Set(entities.ConnStateOpen)
	if s := t.State(); s.Terminal() {
		go r.handleLoss(t, s)
	}
	return true
}

func (r *Reconnecting) dial(ctx context.Context) (repositories.Transport, error) {
	t := r.factory()
	t.OnMessage(func(ev domain.Event) {
		r.mu.Lock()
		h := r.handler
		r.mu.Unlock()
		if h != nil {
			h(ev)
		}
	})
	t.OnStateChange(func(s entities.ConnState) {
		if s.Terminal() {
			go r.handleLoss(t, s)
		}
	})
	if err := t.Connect(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (r *Reconnecting) handleLoss(lost repositories.Transport, s entities.ConnState) {
	r.mu.Lock()
	if r.closed || r.current != lost {
		r.mu.Unlock()
		return
	}
	r.current = nil
	r.mu.Unlock()
	lost.Close()

	r.logger.Warn("Realtime link lost, reconnecting", zap.String("state", string(s)))
	r.state.Set(entities.ConnStateConnecting)

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.ctx, r.config.DialTimeout)
		t, err := r.dial(ctx)
		cancel()
		if err != nil {
			r.logger.Warn("Reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		if r.adopt(t) {
			r.logger.Info("Realtime link re-established", zap.Int("attempt", attempt))
		}
		return
	}

	r.logger.Error("Giving up on realtime link", zap.Int("attempts", r.config.MaxAttempts))
	r.state.SetUnlessTerminal(entities.ConnStateFailed)
}

func (r *Reconnecting) Send(event domain.ClientEvent) error {
	r.mu.Lock()
	t := r.current
	r.mu.Unlock()
	if t == nil {
		return fmt.Errorf("failed to send %s: %w", event.ClientEventType(), domain.ErrNotConnected)
	}
	return t.Send(event)
}

// Close stops reconnecting and closes the active link.
func (r *Reconnecting) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	t := r.current
	r.current = nil
	r.mu.Unlock()

	r.cancel()
	var err error
	if t != nil {
		err = t.Close()
	}
	r.state.SetUnlessTerminal(entities.ConnStateClosed)
	return err
}
