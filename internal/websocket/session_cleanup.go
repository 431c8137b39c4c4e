package websocket

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// IdleReaper periodically closes relays that carried no traffic for longer
// than the idle timeout.
type IdleReaper struct {
	hub      *Hub
	timeout  time.Duration
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	stopChan chan struct{}
	stopped  chan struct{}
}

// NewIdleReaper creates a reaper. The sweep interval is a tenth of the
// timeout, at least one second.
func NewIdleReaper(hub *Hub, timeout time.Duration, clk clock.Clock, logger *zap.Logger) *IdleReaper {
	if clk == nil {
		clk = clock.New()
	}
	interval := timeout / 10
	if interval < time.Second {
		interval = time.Second
	}
	return &IdleReaper{
		hub:      hub,
		timeout:  timeout,
		interval: interval,
		clock:    clk,
		logger:   logger,
		stopChan: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the background sweep
func (s *IdleReaper) Start() {
	go s.cleanupLoop()
	s.logger.Info("Relay idle reaper started",
		zap.Duration("timeout", s.timeout),
		zap.Duration("interval", s.interval))
}

// Stop gracefully stops the reaper
func (s *IdleReaper) Stop() {
	close(s.stopChan)
	<-s.stopped
	s.logger.Info("Relay idle reaper stopped")
}

func (s *IdleReaper) cleanupLoop() {
	defer close(s.stopped)
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup closes every relay idle since before now minus the timeout.
func (s *IdleReaper) runCleanup() int {
	closed := s.hub.CloseIdle(s.clock.Now().Add(-s.timeout))
	if closed > 0 {
		s.logger.Info("Closed idle relays", zap.Int("count", closed))
	}
	return closed
}
