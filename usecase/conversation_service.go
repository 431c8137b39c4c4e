package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/tools"
)

const defaultInboxSize = 256

// AudioRecorder produces provider-format frames from a microphone.
type AudioRecorder interface {
	Start(onFrame func(entities.AudioFrame)) error
	Stop() error
}

// AudioPlayer plays provider audio and reports when its queue drains.
type AudioPlayer interface {
	Enqueue(frame entities.AudioFrame) error
	Busy() bool
	OnQueueEmpty(fn func())
	Stop() error
}

// ConversationConfig holds configuration for a conversation.
// Required fields:
// - Session: the configuration sent on every open
// Optional fields with defaults:
// - ToolTimeout: per tool call (default: 10s)
// - Clock: time source (default: wall clock)
// - ActivityWindow, ActivityMaxEntries: activity log bounds (default: 5m, 512)
type ConversationConfig struct {
	Session            domain.SessionConfig
	ToolTimeout        time.Duration
	Clock              clock.Clock
	ActivityWindow     time.Duration
	ActivityMaxEntries int
}

// Snapshot is a consistent view of a conversation.
type Snapshot struct {
	Conn         entities.ConnState
	Speaking     entities.SpeakingState
	SessionID    string
	Configured   bool
	PendingTools []string
	LastError    error
	Err          error
}

// ConversationService runs one realtime voice session. A single loop
// goroutine owns the interpreter; transport deliveries, playback drains, tool
// results and connection changes are posted to it as closures. Captured
// audio goes straight to the transport.
type ConversationService struct {
	transport repositories.Transport
	recorder  AudioRecorder
	player    AudioPlayer
	registry  *tools.Registry
	config    ConversationConfig
	logger    *zap.Logger

	history  *History
	activity *entities.ActivityLog
	tools    *ToolOrchestrator
	interp   *Interpreter

	inbox    chan func()
	done     chan struct{}
	loopDone chan struct{}
	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once

	mu        sync.RWMutex
	conn      entities.ConnState
	opens     int
	err       error
	observers []func(Snapshot)
}

// NewConversationService creates a session. recorder and player may be nil
// for text-only use.
func NewConversationService(
	transport repositories.Transport,
	recorder AudioRecorder,
	player AudioPlayer,
	registry *tools.Registry,
	config ConversationConfig,
	logger *zap.Logger,
) *ConversationService {
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	s := &ConversationService{
		transport: transport,
		recorder:  recorder,
		player:    player,
		registry:  registry,
		config:    config,
		logger:    logger,
		history:   NewHistory(config.Clock),
		activity:  entities.NewActivityLog(config.ActivityWindow, config.ActivityMaxEntries),
		inbox:     make(chan func(), defaultInboxSize),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		conn:      entities.ConnStateIdle,
	}
	s.tools = NewToolOrchestrator(registry, config.ToolTimeout, config.Clock, logger, func(outcome ToolOutcome) {
		s.post(func() { s.interp.ToolResolved(outcome) })
	})
	s.interp = NewInterpreter(s.history, s.tools, s.activity, player, transport.Send, config.Clock, logger)
	return s
}

// Start connects the transport, sends the session configuration and begins
// streaming microphone audio. On failure the session is left in the failed
// state; call Stop to release it.
func (s *ConversationService) Start(ctx context.Context) error {
	if s.stopped.Load() {
		return domain.ErrSessionStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("conversation already started")
	}

	s.transport.OnMessage(func(event domain.Event) {
		s.post(func() { s.interp.Handle(event) })
	})
	s.transport.OnStateChange(func(state entities.ConnState) {
		s.post(func() { s.onConnState(state) })
	})
	if s.player != nil {
		s.player.OnQueueEmpty(func() {
			s.post(s.interp.PlaybackDrained)
		})
	}
	go s.loop()

	s.setConn(entities.ConnStateConnecting, nil)
	if err := s.transport.Connect(ctx); err != nil {
		err = fmt.Errorf("failed to connect: %w", err)
		s.setConn(entities.ConnStateFailed, err)
		return err
	}

	if s.recorder != nil {
		err := s.recorder.Start(func(frame entities.AudioFrame) {
			if s.stopped.Load() {
				return
			}
			if err := s.transport.Send(domain.AppendAudio{Frame: frame}); err != nil {
				s.logger.Debug("Dropping captured frame", zap.Error(err))
			}
		})
		if err != nil {
			err = fmt.Errorf("failed to start capture: %w", err)
			s.setConn(entities.ConnStateFailed, err)
			s.Stop()
			return err
		}
	}

	s.logger.Info("Conversation started")
	return nil
}

// Stop ends the session: capture and playback halt, the transport closes,
// and anything delivered afterwards is dropped. Idempotent.
func (s *ConversationService) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		s.stopped.Store(true)

		if s.recorder != nil {
			if err := s.recorder.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop capture: %w", err))
			}
		}
		s.tools.Stop()
		if s.player != nil {
			if err := s.player.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop playback: %w", err))
			}
		}
		if err := s.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}

		s.mu.Lock()
		s.interp.Halt("stopped")
		s.conn = entities.ConnStateClosed
		snap := s.snapshotLocked()
		observers := append([]func(Snapshot){}, s.observers...)
		s.mu.Unlock()

		close(s.done)
		if s.started.Load() {
			<-s.loopDone
		}
		for _, fn := range observers {
			fn(snap)
		}
		s.logger.Info("Conversation stopped")
	})
	return errors.Join(errs...)
}

// Snapshot returns the current state. Safe from any goroutine.
func (s *ConversationService) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// History returns the transcript of this session.
func (s *ConversationService) History() *History {
	return s.history
}

// Activity returns the speaking-state timeline.
func (s *ConversationService) Activity() *entities.ActivityLog {
	return s.activity
}

// Observe registers fn to receive a snapshot after every state change. fn
// runs on the loop goroutine and must not block.
func (s *ConversationService) Observe(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *ConversationService) snapshotLocked() Snapshot {
	return Snapshot{
		Conn:         s.conn,
		Speaking:     s.interp.speaking,
		SessionID:    s.interp.sessionID,
		Configured:   s.interp.configured,
		PendingTools: s.tools.Outstanding(),
		LastError:    s.interp.LastError(),
		Err:          s.err,
	}
}

func (s *ConversationService) post(fn func()) {
	if s.stopped.Load() {
		return
	}
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

func (s *ConversationService) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.inbox:
			s.run(fn)
		case <-s.done:
			return
		}
	}
}

func (s *ConversationService) run(fn func()) {
	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		return
	}
	before := s.interp.version
	conn := s.conn
	fn()
	changed := s.interp.version != before || s.conn != conn
	var snap Snapshot
	var observers []func(Snapshot)
	if changed {
		snap = s.snapshotLocked()
		observers = append(observers, s.observers...)
	}
	s.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}
}

// onConnState runs on the loop with mu held.
func (s *ConversationService) onConnState(state entities.ConnState) {
	s.conn = state
	switch state {
	case entities.ConnStateOpen:
		s.opens++
		if s.opens > 1 {
			s.logger.Info("Realtime link re-established, resynchronizing")
			s.interp.Resync()
		}
		cfg := s.config.Session
		cfg.Tools = s.registry.Definitions()
		if len(cfg.Tools) > 0 && cfg.ToolChoice == "" {
			cfg.ToolChoice = "auto"
		}
		if err := s.transport.Send(domain.SessionUpdate{Config: cfg}); err != nil {
			s.logger.Warn("Failed to send session configuration", zap.Error(err))
		}

	case entities.ConnStateFailed, entities.ConnStateClosed:
		if state == entities.ConnStateFailed && s.err == nil {
			s.err = fmt.Errorf("realtime link lost: %w", domain.ErrNetwork)
		}
		s.logger.Warn("Realtime link ended", zap.String("state", string(state)))
		if s.recorder != nil {
			if err := s.recorder.Stop(); err != nil {
				s.logger.Warn("Failed to stop capture", zap.Error(err))
			}
		}
		if s.player != nil {
			if err := s.player.Stop(); err != nil {
				s.logger.Warn("Failed to stop playback", zap.Error(err))
			}
		}
		s.interp.Halt(string(state))
	}
}

func (s *ConversationService) setConn(state entities.ConnState, err error) {
	s.mu.Lock()
	s.conn = state
	if err != nil {
		s.err = err
	}
	snap := s.snapshotLocked()
	observers := append([]func(Snapshot){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(snap)
	}
}
