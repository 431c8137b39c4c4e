package domain

import (
	"github.com/satriahrh/voicebridge/domain/entities"
)

// ClientEvent is one outbound message to the provider.
type ClientEvent interface {
	ClientEventType() string
	isClientEvent()
}

// SessionConfig is the session configuration sent with SessionUpdate.
type SessionConfig struct {
	Modalities              []string                  `json:"modalities,omitempty"`
	Voice                   string                    `json:"voice,omitempty"`
	Instructions            string                    `json:"instructions,omitempty"`
	InputAudioFormat        string                    `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                    `json:"output_audio_format,omitempty"`
	InputAudioTranscription *AudioTranscription       `json:"input_audio_transcription,omitempty"`
	TurnDetection           *entities.TurnDetection   `json:"turn_detection,omitempty"`
	Tools                   []entities.ToolDefinition `json:"tools,omitempty"`
	ToolChoice              string                    `json:"tool_choice,omitempty"`
}

// AudioTranscription selects the model transcribing user audio.
type AudioTranscription struct {
	Model string `json:"model"`
}

// DefaultSessionConfig returns the configuration every session starts from.
func DefaultSessionConfig(voice, instructions string) SessionConfig {
	td := entities.DefaultServerVAD()
	return SessionConfig{
		Modalities:              []string{"text", "audio"},
		Voice:                   voice,
		Instructions:            instructions,
		InputAudioFormat:        entities.ProviderAudioFormat.Encoding,
		OutputAudioFormat:       entities.ProviderAudioFormat.Encoding,
		InputAudioTranscription: &AudioTranscription{Model: "whisper-1"},
		TurnDetection:           &td,
	}
}

// SessionUpdate configures the provider session.
type SessionUpdate struct {
	Config SessionConfig
}

// AppendAudio streams one captured frame into the provider's input buffer.
type AppendAudio struct {
	Frame entities.AudioFrame
}

// ToolResult returns a tool's output for the given call.
type ToolResult struct {
	CallID string
	Output string
}

// ResponseCreate asks the provider to continue generating.
type ResponseCreate struct{}

func (SessionUpdate) ClientEventType() string  { return "session.update" }
func (AppendAudio) ClientEventType() string    { return "input_audio_buffer.append" }
func (ToolResult) ClientEventType() string     { return "conversation.item.create" }
func (ResponseCreate) ClientEventType() string { return "response.create" }

func (SessionUpdate) isClientEvent()  {}
func (AppendAudio) isClientEvent()    {}
func (ToolResult) isClientEvent()     {}
func (ResponseCreate) isClientEvent() {}
