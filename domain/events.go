package domain

import (
	"github.com/satriahrh/voicebridge/domain/entities"
)

// Event is one inbound provider event. The set of implementations is closed;
// consumers switch over the concrete types.
type Event interface {
	EventType() string
	isEvent()
}

// SessionReady means the provider (or relay) accepted the connection.
type SessionReady struct {
	SessionID string
}

// SessionConfigured acknowledges a session configuration update.
type SessionConfigured struct {
	SessionID string
}

// SpeechStarted is the provider's VAD detecting the user talking.
type SpeechStarted struct {
	ItemID       string
	AudioStartMs int
}

// SpeechStopped is the provider's VAD detecting the end of an utterance.
type SpeechStopped struct {
	ItemID     string
	AudioEndMs int
}

// UserTranscript carries the complete transcript of one user utterance.
type UserTranscript struct {
	ItemID string
	Text   string
}

// TranscriptDelta is a fragment of the assistant's spoken or written text.
type TranscriptDelta struct {
	ResponseID string
	ItemID     string
	Text       string
}

// AudioDelta is a chunk of assistant audio.
type AudioDelta struct {
	ResponseID string
	ItemID     string
	Frame      entities.AudioFrame
}

// ResponseDone signals that the provider finished generating a response.
type ResponseDone struct {
	ResponseID string
	Status     string
}

// AudioPlaybackStopped signals the provider-side output buffer drained. Only
// WebRTC sessions, where the provider plays the audio, emit it.
type AudioPlaybackStopped struct {
	ResponseID string
}

// ToolCallStarted announces a function call.
type ToolCallStarted struct {
	ResponseID string
	CallID     string
	Name       string
}

// ToolArgumentsDelta is a fragment of a function call's JSON arguments.
type ToolArgumentsDelta struct {
	CallID string
	Delta  string
}

// ToolArgumentsDone ends argument streaming for a call. Arguments holds the
// provider's full argument text when it includes one.
type ToolArgumentsDone struct {
	CallID    string
	Name      string
	Arguments string
}

// ProviderErrorEvent wraps an error reported by the provider.
type ProviderErrorEvent struct {
	Err *ProviderError
}

// Ignored is a well-formed event the interpreter has no use for.
type Ignored struct {
	Type string
}

// MalformedEvent is an inbound payload that could not be decoded.
type MalformedEvent struct {
	Raw []byte
	Err error
}

func (SessionReady) EventType() string         { return "session-ready" }
func (SessionConfigured) EventType() string    { return "session-configured" }
func (SpeechStarted) EventType() string        { return "user-speech-started" }
func (SpeechStopped) EventType() string        { return "user-speech-stopped" }
func (UserTranscript) EventType() string       { return "user-transcript-complete" }
func (TranscriptDelta) EventType() string      { return "ai-transcript-delta" }
func (AudioDelta) EventType() string           { return "ai-audio-delta" }
func (ResponseDone) EventType() string         { return "ai-response-complete" }
func (AudioPlaybackStopped) EventType() string { return "ai-audio-playback-complete" }
func (ToolCallStarted) EventType() string      { return "tool-invocation-started" }
func (ToolArgumentsDelta) EventType() string   { return "tool-argument-delta" }
func (ToolArgumentsDone) EventType() string    { return "tool-arguments-complete" }
func (ProviderErrorEvent) EventType() string   { return "provider-error" }
func (e Ignored) EventType() string            { return "ignored:" + e.Type }
func (MalformedEvent) EventType() string       { return "malformed" }

func (SessionReady) isEvent()         {}
func (SessionConfigured) isEvent()    {}
func (SpeechStarted) isEvent()        {}
func (SpeechStopped) isEvent()        {}
func (UserTranscript) isEvent()       {}
func (TranscriptDelta) isEvent()      {}
func (AudioDelta) isEvent()           {}
func (ResponseDone) isEvent()         {}
func (AudioPlaybackStopped) isEvent() {}
func (ToolCallStarted) isEvent()      {}
func (ToolArgumentsDelta) isEvent()   {}
func (ToolArgumentsDone) isEvent()    {}
func (ProviderErrorEvent) isEvent()   {}
func (Ignored) isEvent()              {}
func (MalformedEvent) isEvent()       {}
