package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

const defaultPlaybackWriteSize = 512 // samples per device write

var ErrPlaybackStopped = errors.New("playback stopped")

// Interval is the scheduled playback span of one frame.
type Interval struct {
	Start time.Time
	End   time.Time
}

// PlaybackConfig holds optional playback settings.
// - Clock: time source for scheduling (default: wall clock)
// - WriteSize: samples per device write (default: 512)
// - SampleRate: rate of incoming frames (default: 24000)
type PlaybackConfig struct {
	Clock      clock.Clock
	WriteSize  int
	SampleRate int
}

// Playback plays provider frames back to back on a sink. Frame i starts at
// the scheduled end of frame i-1 while the queue is busy, so bursty delivery
// does not open gaps.
type Playback struct {
	sink      repositories.AudioSink
	clock     clock.Clock
	rate      int
	writeSize int
	logger    *zap.Logger

	mu           sync.Mutex
	stopped      bool
	busyUntil    time.Time
	schedule     []Interval
	drainTimer   *clock.Timer
	generation   uint64
	onQueueEmpty func()
	queue        [][]float32
	wake         chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
}

// NewPlayback creates a playback pipeline and starts its writer.
func NewPlayback(sink repositories.AudioSink, config PlaybackConfig, logger *zap.Logger) *Playback {
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	writeSize := config.WriteSize
	if writeSize <= 0 {
		writeSize = defaultPlaybackWriteSize
	}
	rate := config.SampleRate
	if rate <= 0 {
		rate = entities.ProviderAudioFormat.SampleRate
	}

	p := &Playback{
		sink:      sink,
		clock:     clk,
		rate:      rate,
		writeSize: writeSize,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	p.wg.Add(1)
	go p.writeLoop()
	return p
}

// OnQueueEmpty registers the callback fired once per drain-to-empty
// transition, at the scheduled end of the last queued frame.
func (p *Playback) OnQueueEmpty(fn func()) {
	p.mu.Lock()
	p.onQueueEmpty = fn
	p.mu.Unlock()
}

// Enqueue schedules a frame after everything already queued.
func (p *Playback) Enqueue(frame entities.AudioFrame) error {
	if frame.Empty() {
		return nil
	}
	samples := DecodeFrame(frame)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPlaybackStopped
	}

	now := p.clock.Now()
	start := now
	if p.busyUntil.After(now) {
		start = p.busyUntil
	} else {
		p.schedule = p.schedule[:0]
	}
	end := start.Add(frame.Duration(p.rate))
	p.schedule = append(p.schedule, Interval{Start: start, End: end})
	p.busyUntil = end

	if p.drainTimer != nil {
		p.drainTimer.Stop()
	}
	p.generation++
	gen := p.generation
	p.drainTimer = p.clock.AfterFunc(end.Sub(now), func() { p.drained(gen) })

	p.queue = append(p.queue, samples)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Busy reports whether queued audio has not yet reached its scheduled end.
func (p *Playback) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped && p.busyUntil.After(p.clock.Now())
}

// Schedule returns the intervals of the current or most recent drain.
func (p *Playback) Schedule() []Interval {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Interval, len(p.schedule))
	copy(out, p.schedule)
	return out
}

// Stop halts playback, discards the queue and closes the sink. Idempotent.
func (p *Playback) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.queue = nil
	p.busyUntil = time.Time{}
	if p.drainTimer != nil {
		p.drainTimer.Stop()
	}
	p.generation++
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	return p.sink.Close()
}

func (p *Playback) drained(gen uint64) {
	p.mu.Lock()
	if p.stopped || gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.drainTimer = nil
	cb := p.onQueueEmpty
	p.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (p *Playback) writeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if p.stopped || len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			samples := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()

			if !p.write(samples) {
				return
			}
		}
	}
}

// write feeds one frame to the sink in device-sized pieces, bailing out as
// soon as Stop is called.
func (p *Playback) write(samples []float32) bool {
	for len(samples) > 0 {
		select {
		case <-p.done:
			return false
		default:
		}

		n := p.writeSize
		if n > len(samples) {
			n = len(samples)
		}
		if err := p.sink.Write(samples[:n]); err != nil {
			p.logger.Warn("Audio sink write failed", zap.Error(err))
		}
		samples = samples[n:]
	}
	return true
}
