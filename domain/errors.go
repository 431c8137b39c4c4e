package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the user refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no usable audio device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrAuth means the provider or relay rejected our credential.
	ErrAuth = errors.New("authentication failed")
	// ErrNetwork covers dial, read and write failures on the transport.
	ErrNetwork = errors.New("network error")
	// ErrProtocol means the peer spoke something we could not understand.
	ErrProtocol = errors.New("protocol error")

	ErrToolExecution  = errors.New("tool execution failed")
	ErrSessionStopped = errors.New("session stopped")
	ErrNotConnected   = errors.New("transport not connected")
)

// ProviderError is an error event reported by the realtime provider.
type ProviderError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("provider: %s: %s", e.Code, e.Message)
	case e.Type != "":
		return fmt.Sprintf("provider: %s: %s", e.Type, e.Message)
	default:
		return fmt.Sprintf("provider: %s", e.Message)
	}
}

// ToolError reports a failed tool handler invocation.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrToolExecution, e.Err}
}
