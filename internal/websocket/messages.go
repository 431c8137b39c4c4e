package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/satriahrh/voicebridge/adapters/realtime"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Relay-level message types. Everything else a client sends must be one of
// the pass-through realtime events.
const (
	MessageTypeAudioInput MessageType = "audio_input"
	MessageTypeAudio      MessageType = "audio"
	MessageTypeStop       MessageType = "stop"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeReady      MessageType = "ready"
	MessageTypeError      MessageType = "error"
)

// passthroughTypes are the client realtime events forwarded upstream as is.
var passthroughTypes = map[string]bool{
	realtime.ClientEventInputAudioAppend:    true,
	realtime.ClientEventConversationItemAdd: true,
	realtime.ClientEventResponseCreate:      true,
	realtime.ClientEventResponseCancel:      true,
	realtime.ClientEventSessionUpdate:       true,
}

// ClientMessage is an inbound message from a relay client.
type ClientMessage struct {
	Type  MessageType `json:"type"`
	Data  string      `json:"data,omitempty"`  // audio_input, base64 PCM16
	Audio string      `json:"audio,omitempty"` // audio, base64 PCM16
}

// ReadyMessage tells the client the upstream session is configured. The
// session object has the same shape as in session.created.
type ReadyMessage struct {
	Type    MessageType  `json:"type"`
	Session ReadySession `json:"session"`
}

// ReadySession identifies the relay session.
type ReadySession struct {
	ID string `json:"id"`
}

// ErrorMessage mirrors the provider's error event so clients decode relay
// and provider errors the same way.
type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the body of an ErrorMessage.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PongMessage answers a client ping.
type PongMessage struct {
	Type MessageType `json:"type"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// Action says what the relay does with a parsed client message.
type Action int

const (
	ActionForward Action = iota
	ActionPong
	ActionStop
)

// ParseClientMessage validates an inbound text message and returns the
// action plus the upstream payload for ActionForward.
func ParseClientMessage(message []byte) (Action, []byte, error) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return 0, nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if msg.Type == "" {
		return 0, nil, fmt.Errorf("message type is required")
	}

	switch msg.Type {
	case MessageTypeAudioInput:
		return audioForward(msg.Data)
	case MessageTypeAudio:
		return audioForward(msg.Audio)
	case MessageTypeStop:
		return ActionStop, nil, nil
	case MessageTypePing:
		return ActionPong, nil, nil
	}

	if passthroughTypes[string(msg.Type)] {
		return ActionForward, message, nil
	}
	return 0, nil, fmt.Errorf("unsupported message type: %s", msg.Type)
}

func audioForward(data string) (Action, []byte, error) {
	if data == "" {
		return 0, nil, fmt.Errorf("audio payload is required")
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return 0, nil, fmt.Errorf("audio payload must be base64: %w", err)
	}
	if len(pcm)%2 != 0 {
		return 0, nil, fmt.Errorf("audio payload must be PCM16")
	}
	payload, err := json.Marshal(audioAppend{Type: realtime.ClientEventInputAudioAppend, Audio: data})
	return ActionForward, payload, err
}

// EncodeBinaryAudio wraps a raw PCM16 binary frame as an append event.
func EncodeBinaryAudio(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, fmt.Errorf("binary audio must be non-empty PCM16")
	}
	return json.Marshal(audioAppend{
		Type:  realtime.ClientEventInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) []byte {
	payload, _ := json.Marshal(ErrorMessage{
		Type: MessageTypeError,
		Error: ErrorDetail{
			Type:    "relay_error",
			Code:    code,
			Message: message,
		},
	})
	return payload
}

// CreateReadyMessage creates the message sent once upstream is configured.
func CreateReadyMessage(sessionID string) []byte {
	payload, _ := json.Marshal(ReadyMessage{Type: MessageTypeReady, Session: ReadySession{ID: sessionID}})
	return payload
}

// CreatePongMessage creates a pong response message
func CreatePongMessage() []byte {
	payload, _ := json.Marshal(PongMessage{Type: MessageTypePong})
	return payload
}
