//go:build !portaudio

// Package portaudio connects the audio pipelines to the local sound card.
// Builds without the portaudio tag have no device access.
package portaudio

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

// Available reports whether this build can open sound devices.
const Available = false

// System is a placeholder that never initializes.
type System struct{}

// NewSystem always fails; rebuild with -tags portaudio.
func NewSystem(logger *zap.Logger) (*System, error) {
	return nil, fmt.Errorf("built without the portaudio tag: %w", domain.ErrDeviceUnavailable)
}

func (s *System) Close() error { return nil }

func (s *System) NewSource(rate, framesPerBuffer int) repositories.AudioSource {
	return nil
}

func (s *System) NewSink(rate, framesPerBuffer int) (repositories.AudioSink, error) {
	return nil, domain.ErrDeviceUnavailable
}
