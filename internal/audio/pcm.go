// Package audio converts between device samples and provider frames and
// schedules assistant audio for playback.
package audio

import (
	"math"

	"github.com/satriahrh/voicebridge/domain/entities"
)

const pcm16Scale = 32767

// FloatToPCM16 clamps s to [-1,1] and scales it to a signed 16-bit sample.
func FloatToPCM16(s float32) int16 {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	case math.IsNaN(float64(s)):
		s = 0
	}
	return int16(s * pcm16Scale)
}

// PCM16ToFloat is the inverse of FloatToPCM16.
func PCM16ToFloat(s int16) float32 {
	f := float32(s) / pcm16Scale
	if f < -1 {
		return -1
	}
	return f
}

// EncodePCM16 converts float samples to PCM16.
func EncodePCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = FloatToPCM16(s)
	}
	return out
}

// DecodeFrame converts a provider frame back to float samples.
func DecodeFrame(frame entities.AudioFrame) []float32 {
	samples := frame.Samples()
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = PCM16ToFloat(s)
	}
	return out
}

// Decimator downsamples by an integer factor by keeping every Nth sample.
// No anti-aliasing filter is applied. The phase carries across calls so
// buffer boundaries do not shift the sampling grid.
type Decimator struct {
	factor int
	phase  int
}

// NewDecimator creates a decimator. Factors below 1 are treated as 1.
func NewDecimator(factor int) *Decimator {
	if factor < 1 {
		factor = 1
	}
	return &Decimator{factor: factor}
}

// Factor returns the decimation ratio.
func (d *Decimator) Factor() int {
	return d.factor
}

// Process appends the retained samples of in to out and returns it.
func (d *Decimator) Process(in []float32, out []float32) []float32 {
	for _, s := range in {
		if d.phase == 0 {
			out = append(out, s)
		}
		d.phase++
		if d.phase == d.factor {
			d.phase = 0
		}
	}
	return out
}

// Reset realigns the sampling grid to the next input sample.
func (d *Decimator) Reset() {
	d.phase = 0
}

// DecimatePCM16 keeps every factor-th sample of in.
func DecimatePCM16(in []int16, factor int) []int16 {
	if factor <= 1 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	out := make([]int16, 0, (len(in)+factor-1)/factor)
	for i := 0; i < len(in); i += factor {
		out = append(out, in[i])
	}
	return out
}

// InterpolatePCM16 upsamples by an integer factor with linear interpolation.
// The last input sample is held to fill the tail.
func InterpolatePCM16(in []int16, factor int) []int16 {
	if factor <= 1 || len(in) == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	out := make([]int16, 0, len(in)*factor)
	for i, s := range in {
		next := s
		if i+1 < len(in) {
			next = in[i+1]
		}
		for k := 0; k < factor; k++ {
			v := int32(s) + (int32(next)-int32(s))*int32(k)/int32(factor)
			out = append(out, int16(v))
		}
	}
	return out
}
