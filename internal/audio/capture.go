package audio

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

const defaultCaptureChunkSize = 1024 // samples at the provider rate

var ErrCaptureRunning = errors.New("capture already running")

// CaptureConfig holds optional capture settings.
// - ChunkSize: samples per emitted frame (default: 1024, about 43ms at 24kHz)
// - TargetRate: provider sample rate (default: 24000)
type CaptureConfig struct {
	ChunkSize  int
	TargetRate int
}

// Capture turns device buffers into fixed-size provider frames.
type Capture struct {
	source     repositories.AudioSource
	chunkSize  int
	targetRate int
	logger     *zap.Logger

	mu        sync.Mutex
	running   bool
	decimator *Decimator
	scratch   []float32
	pending   []int16
	onFrame   func(entities.AudioFrame)
	frames    uint64
}

// NewCapture creates a capture pipeline over source.
func NewCapture(source repositories.AudioSource, config CaptureConfig, logger *zap.Logger) *Capture {
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultCaptureChunkSize
	}
	targetRate := config.TargetRate
	if targetRate <= 0 {
		targetRate = entities.ProviderAudioFormat.SampleRate
	}
	return &Capture{
		source:     source,
		chunkSize:  chunkSize,
		targetRate: targetRate,
		logger:     logger,
	}
}

// Start begins capture. Frames are handed to onFrame on the device's
// callback goroutine and must not block or call Stop. Device refusal
// surfaces as domain.ErrPermissionDenied or domain.ErrDeviceUnavailable.
func (c *Capture) Start(onFrame func(entities.AudioFrame)) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCaptureRunning
	}

	nativeRate := c.source.SampleRate()
	if nativeRate < c.targetRate || nativeRate%c.targetRate != 0 {
		c.mu.Unlock()
		return fmt.Errorf("failed to start capture: native rate %d is not a multiple of %d: %w",
			nativeRate, c.targetRate, domain.ErrDeviceUnavailable)
	}

	c.decimator = NewDecimator(nativeRate / c.targetRate)
	c.pending = make([]int16, 0, c.chunkSize)
	c.onFrame = onFrame
	c.frames = 0
	c.running = true
	c.mu.Unlock()

	if err := c.source.Start(c.handleSamples); err != nil {
		c.mu.Lock()
		c.running = false
		c.onFrame = nil
		c.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	c.logger.Info("Audio capture started",
		zap.Int("nativeRate", nativeRate),
		zap.Int("targetRate", c.targetRate),
		zap.Int("decimation", c.decimator.Factor()),
		zap.Int("chunkSize", c.chunkSize))
	return nil
}

// Stop halts capture. No frame is delivered after Stop returns.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.onFrame = nil
	c.pending = nil
	frames := c.frames
	c.mu.Unlock()

	err := c.source.Stop()
	c.logger.Info("Audio capture stopped", zap.Uint64("framesEmitted", frames))
	if err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

// Running reports whether capture is active.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Capture) handleSamples(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	c.scratch = c.decimator.Process(samples, c.scratch[:0])
	for _, s := range c.scratch {
		c.pending = append(c.pending, FloatToPCM16(s))
		if len(c.pending) == c.chunkSize {
			frame := entities.NewAudioFrameFromSamples(c.pending)
			c.pending = c.pending[:0]
			c.frames++
			c.onFrame(frame)
		}
	}
}
