//go:build portaudio

// Package portaudio connects the audio pipelines to the local sound card.
package portaudio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

// Available reports whether this build can open sound devices.
const Available = true

// System owns the PortAudio library lifetime.
type System struct {
	logger *zap.Logger
	once   sync.Once
}

// NewSystem initializes PortAudio. Close terminates it.
func NewSystem(logger *zap.Logger) (*System, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w: %v", domain.ErrDeviceUnavailable, err)
	}
	return &System{logger: logger}, nil
}

// Close releases PortAudio.
func (s *System) Close() error {
	var err error
	s.once.Do(func() { err = portaudio.Terminate() })
	return err
}

// Source reads mono float32 samples from the default input device.
type Source struct {
	rate            int
	framesPerBuffer int
	logger          *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ repositories.AudioSource = (*Source)(nil)

// NewSource prepares the default microphone at rate.
func (s *System) NewSource(rate, framesPerBuffer int) *Source {
	return &Source{rate: rate, framesPerBuffer: framesPerBuffer, logger: s.logger}
}

func (s *Source) SampleRate() int { return s.rate }

// Start opens the input stream and delivers buffers from a reader goroutine.
func (s *Source) Start(onSamples func(samples []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}

	in := make([]float32, s.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.rate), s.framesPerBuffer, in)
	if err != nil {
		return classify("open input stream", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return classify("start input stream", err)
	}

	s.stream = stream
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.readLoop(stream, in, onSamples, s.done)

	s.logger.Info("Microphone opened",
		zap.Int("sampleRate", s.rate),
		zap.Int("framesPerBuffer", s.framesPerBuffer))
	return nil
}

func (s *Source) readLoop(stream *portaudio.Stream, in []float32, onSamples func([]float32), done <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-done:
			return
		default:
		}
		if err := stream.Read(); err != nil {
			// Overflows are routine under load; keep reading.
			if err == portaudio.InputOverflowed {
				continue
			}
			select {
			case <-done:
			default:
				s.logger.Warn("Microphone read failed", zap.Error(err))
			}
			return
		}
		onSamples(in)
	}
}

// Stop halts the input stream and waits for the reader to exit.
func (s *Source) Stop() error {
	s.mu.Lock()
	stream := s.stream
	done := s.done
	s.stream = nil
	s.mu.Unlock()
	if stream == nil {
		return nil
	}

	close(done)
	err := stream.Stop()
	s.wg.Wait()
	if cerr := stream.Close(); err == nil {
		err = cerr
	}
	return err
}

// Sink writes mono float32 samples to the default output device.
type Sink struct {
	rate   int
	logger *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	out    []float32
}

var _ repositories.AudioSink = (*Sink)(nil)

// NewSink opens the default speaker at rate with writes of framesPerBuffer.
func (s *System) NewSink(rate, framesPerBuffer int) (*Sink, error) {
	out := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), framesPerBuffer, out)
	if err != nil {
		return nil, classify("open output stream", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, classify("start output stream", err)
	}
	s.logger.Info("Speaker opened",
		zap.Int("sampleRate", rate),
		zap.Int("framesPerBuffer", framesPerBuffer))
	return &Sink{rate: rate, logger: s.logger, stream: stream, out: out}, nil
}

func (s *Sink) SampleRate() int { return s.rate }

// Write blocks until every sample was handed to the device. A short final
// chunk is padded with silence.
func (s *Sink) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return fmt.Errorf("failed to write: %w", domain.ErrDeviceUnavailable)
	}

	for len(samples) > 0 {
		n := copy(s.out, samples)
		clear(s.out[n:])
		samples = samples[n:]
		if err := s.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("failed to write to speaker: %w", err)
		}
	}
	return nil
}

// Close stops and releases the output stream.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	s.stream = nil
	return err
}

func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") {
		return fmt.Errorf("failed to %s: %w: %v", op, domain.ErrPermissionDenied, err)
	}
	return fmt.Errorf("failed to %s: %w: %v", op, domain.ErrDeviceUnavailable, err)
}
