package entities

import (
	"encoding/json"
	"strings"
	"time"
)

// ConnState is the lifecycle state of a realtime session's provider link.
type ConnState string

const (
	ConnStateIdle       ConnState = "idle"
	ConnStateConnecting ConnState = "connecting"
	ConnStateOpen       ConnState = "open"
	ConnStateClosed     ConnState = "closed"
	ConnStateFailed     ConnState = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s ConnState) Terminal() bool {
	return s == ConnStateClosed || s == ConnStateFailed
}

// SpeakingState tells who currently holds the conversational floor.
type SpeakingState string

const (
	SpeakingSilence SpeakingState = "silence"
	SpeakingUser    SpeakingState = "user"
	SpeakingAI      SpeakingState = "ai"
	SpeakingTool    SpeakingState = "tool"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser MessageRole = "user"
	MessageRoleAI   MessageRole = "ai"
)

// TranscriptMessage is one entry of the conversation history.
type TranscriptMessage struct {
	ResponseID string      `json:"response_id,omitempty"`
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
	Sealed     bool        `json:"sealed"`
}

// PendingToolCall is a tool invocation whose arguments are still streaming.
type PendingToolCall struct {
	CallID    string
	Name      string
	StartedAt time.Time

	args strings.Builder
}

// NewPendingToolCall creates an empty pending call.
func NewPendingToolCall(callID, name string, now time.Time) *PendingToolCall {
	return &PendingToolCall{
		CallID:    callID,
		Name:      name,
		StartedAt: now,
	}
}

// AppendArguments appends a streamed argument fragment.
func (p *PendingToolCall) AppendArguments(delta string) {
	p.args.WriteString(delta)
}

// Arguments returns the accumulated argument text.
func (p *PendingToolCall) Arguments() string {
	return p.args.String()
}

// ToolDefinition is the provider-facing description of a callable tool.
type ToolDefinition struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// TurnDetection configures provider-side voice activity detection.
type TurnDetection struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int      `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int      `json:"silence_duration_ms,omitempty"`
	Eagerness         string   `json:"eagerness,omitempty"`
	CreateResponse    *bool    `json:"create_response,omitempty"`
}

// DefaultServerVAD returns the server_vad settings used unless overridden.
func DefaultServerVAD() TurnDetection {
	threshold := 0.5
	return TurnDetection{
		Type:              "server_vad",
		Threshold:         &threshold,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}

// SemanticVAD returns semantic_vad settings with the given eagerness.
func SemanticVAD(eagerness string) TurnDetection {
	if eagerness == "" {
		eagerness = "auto"
	}
	return TurnDetection{
		Type:      "semantic_vad",
		Eagerness: eagerness,
	}
}

// SessionCredential is what the credential broker hands to a client before it
// connects to the provider directly.
type SessionCredential struct {
	SessionID         string         `json:"id,omitempty"`
	Credential        string         `json:"credential"`
	ExpiresAt         time.Time      `json:"expires_at"`
	TransportEndpoint string         `json:"webrtc_url"`
	Model             string         `json:"model"`
	Voice             string         `json:"voice"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
}

// Expired reports whether the credential is no longer usable at now.
func (c *SessionCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
