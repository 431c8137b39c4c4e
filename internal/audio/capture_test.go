package audio

import (
	"errors"
	"math"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
)

type fakeSource struct {
	mu       sync.Mutex
	rate     int
	startErr error
	cb       func([]float32)
	stops    int
}

func (s *fakeSource) SampleRate() int { return s.rate }

func (s *fakeSource) Start(cb func([]float32)) error {
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	return nil
}

// push simulates the device callback, which may keep firing for a moment
// after Stop on real hardware.
func (s *fakeSource) push(samples []float32) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

func TestCaptureStartErrors(t *testing.T) {
	tests := []struct {
		name   string
		source *fakeSource
		want   error
	}{
		{"permission denied", &fakeSource{rate: 48000, startErr: domain.ErrPermissionDenied}, domain.ErrPermissionDenied},
		{"no device", &fakeSource{rate: 48000, startErr: domain.ErrDeviceUnavailable}, domain.ErrDeviceUnavailable},
		{"non integer ratio", &fakeSource{rate: 44100}, domain.ErrDeviceUnavailable},
		{"rate below target", &fakeSource{rate: 16000}, domain.ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCapture(tt.source, CaptureConfig{}, zaptest.NewLogger(t))
			err := c.Start(func(entities.AudioFrame) {})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if c.Running() {
				t.Error("capture should not be running after a failed start")
			}
		})
	}
}

func TestCaptureChunksAndDecimates(t *testing.T) {
	source := &fakeSource{rate: 48000}
	c := NewCapture(source, CaptureConfig{ChunkSize: 4}, zaptest.NewLogger(t))

	var frames []entities.AudioFrame
	if err := c.Start(func(f entities.AudioFrame) { frames = append(frames, f) }); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// Odd-sized buffers check that the decimation phase survives boundaries.
	source.push([]float32{0.1, 9, 0.2})
	source.push([]float32{9, 0.3, 9, 0.4, 9, 2.0, 9})
	source.push([]float32{-3.0, 9, 0.5})

	if len(frames) != 1 {
		t.Fatalf("Expected 1 complete frame, got %d", len(frames))
	}
	want := []int16{FloatToPCM16(0.1), FloatToPCM16(0.2), FloatToPCM16(0.3), FloatToPCM16(0.4)}
	got := frames[0].Samples()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	source.push([]float32{9, 0.6, 9})
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	second := frames[1].Samples()
	if second[0] != 32767 || second[1] != -32767 {
		t.Errorf("Expected clamped samples, got %v", second[:2])
	}
}

func TestCaptureNoFramesAfterStop(t *testing.T) {
	source := &fakeSource{rate: 24000}
	c := NewCapture(source, CaptureConfig{ChunkSize: 2}, zaptest.NewLogger(t))

	count := 0
	if err := c.Start(func(entities.AudioFrame) { count++ }); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	source.push([]float32{0.1, 0.2, 0.3})
	if count != 1 {
		t.Fatalf("Expected 1 frame before stop, got %d", count)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	source.push([]float32{0.4, 0.5, 0.6, 0.7})
	if count != 1 {
		t.Errorf("frames delivered after Stop: %d", count-1)
	}
	if source.stops != 1 {
		t.Errorf("Expected device stopped once, got %d", source.stops)
	}

	if err := c.Stop(); err != nil {
		t.Errorf("second Stop returned error: %v", err)
	}
	if source.stops != 1 {
		t.Errorf("second Stop touched the device again")
	}
}

func TestCaptureRoundTripWaveform(t *testing.T) {
	source := &fakeSource{rate: 48000}
	c := NewCapture(source, CaptureConfig{ChunkSize: 480}, zaptest.NewLogger(t))

	// identity transport: frames go straight to the decoder
	var decoded []float32
	c.Start(func(f entities.AudioFrame) { decoded = append(decoded, DecodeFrame(f)...) })

	const n = 4800
	wave := make([]float32, n)
	for i := range wave {
		wave[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	source.push(wave)

	if len(decoded) != n/2 {
		t.Fatalf("Expected %d decoded samples, got %d", n/2, len(decoded))
	}
	const tolerance = 2.0 / 32767
	for i, got := range decoded {
		want := wave[i*2]
		if diff := math.Abs(float64(got - want)); diff > tolerance {
			t.Fatalf("sample %d: expected %f, got %f (diff %g)", i, want, got, diff)
		}
	}
}
