package entities

import (
	"encoding/binary"
	"errors"
	"time"
)

// AudioFormat describes a PCM stream.
type AudioFormat struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
	Encoding   string `json:"encoding"`
}

// ProviderAudioFormat is the single format exchanged with the realtime
// provider: 24 kHz mono little-endian signed 16-bit PCM.
var ProviderAudioFormat = AudioFormat{
	SampleRate: 24000,
	Channels:   1,
	BitDepth:   16,
	Encoding:   "pcm16",
}

// BytesPerSample returns the width of one mono sample.
func (f AudioFormat) BytesPerSample() int {
	return f.BitDepth / 8 * f.Channels
}

var ErrOddFrameLength = errors.New("pcm16 frame length must be even")

// AudioFrame is an immutable chunk of PCM16 audio. The bytes are copied in
// on construction and copied out on access, so frames can be handed between
// goroutines freely.
type AudioFrame struct {
	pcm []byte
}

// NewAudioFrame copies pcm into a new frame.
func NewAudioFrame(pcm []byte) (AudioFrame, error) {
	if len(pcm)%2 != 0 {
		return AudioFrame{}, ErrOddFrameLength
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	return AudioFrame{pcm: buf}, nil
}

// NewAudioFrameFromSamples packs samples as little-endian PCM16.
func NewAudioFrameFromSamples(samples []int16) AudioFrame {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return AudioFrame{pcm: buf}
}

// Bytes returns a copy of the encoded PCM16 payload.
func (f AudioFrame) Bytes() []byte {
	buf := make([]byte, len(f.pcm))
	copy(buf, f.pcm)
	return buf
}

// Samples returns the decoded PCM16 samples.
func (f AudioFrame) Samples() []int16 {
	out := make([]int16, len(f.pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(f.pcm[i*2:]))
	}
	return out
}

// Len is the number of samples in the frame.
func (f AudioFrame) Len() int {
	return len(f.pcm) / 2
}

// Empty reports whether the frame carries no audio.
func (f AudioFrame) Empty() bool {
	return len(f.pcm) == 0
}

// Duration is the playback length of the frame at the given sample rate.
func (f AudioFrame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Len()) * time.Second / time.Duration(sampleRate)
}
