// Package realtime speaks the Azure OpenAI Realtime wire protocol.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
)

// Provider event types.
const (
	EventTypeReady                   = "ready"
	EventTypeError                   = "error"
	EventTypeSessionCreated          = "session.created"
	EventTypeSessionUpdated          = "session.updated"
	EventTypeSpeechStarted           = "input_audio_buffer.speech_started"
	EventTypeSpeechStopped           = "input_audio_buffer.speech_stopped"
	EventTypeInputTranscriptDone     = "conversation.item.input_audio_transcription.completed"
	EventTypeAudioTranscriptDelta    = "response.audio_transcript.delta"
	EventTypeOutputTranscriptDelta   = "response.output_audio_transcript.delta"
	EventTypeTextDelta               = "response.text.delta"
	EventTypeOutputTextDelta         = "response.output_text.delta"
	EventTypeAudioDelta              = "response.audio.delta"
	EventTypeOutputAudioDelta        = "response.output_audio.delta"
	EventTypeResponseDone            = "response.done"
	EventTypeOutputAudioBufferStop   = "output_audio_buffer.stopped"
	EventTypeOutputItemAdded         = "response.output_item.added"
	EventTypeFunctionArgumentsDelta  = "response.function_call_arguments.delta"
	EventTypeFunctionArgumentsDone   = "response.function_call_arguments.done"
	ClientEventSessionUpdate         = "session.update"
	ClientEventInputAudioAppend      = "input_audio_buffer.append"
	ClientEventConversationItemAdd   = "conversation.item.create"
	ClientEventResponseCreate        = "response.create"
	ClientEventResponseCancel        = "response.cancel"
	itemTypeFunctionCall             = "function_call"
	itemTypeFunctionCallOutput       = "function_call_output"
)

var errMissingType = errors.New("event has no type")

type serverEvent struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ItemID       string `json:"item_id"`
	ResponseID   string `json:"response_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	AudioEndMs   int    `json:"audio_end_ms"`
	Transcript   string `json:"transcript"`
	Delta        string `json:"delta"`
	CallID       string `json:"call_id"`
	Name         string `json:"name"`
	Arguments    string `json:"arguments"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session"`
	Item *struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	} `json:"item"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Error *domain.ProviderError `json:"error"`
}

// DecodeEvent parses one inbound message. It never fails: payloads it
// cannot understand come back as domain.MalformedEvent.
func DecodeEvent(raw []byte) domain.Event {
	var ev serverEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return malformed(raw, fmt.Errorf("%w: %v", domain.ErrProtocol, err))
	}
	if ev.Type == "" {
		return malformed(raw, fmt.Errorf("%w: %v", domain.ErrProtocol, errMissingType))
	}

	switch ev.Type {
	case EventTypeReady, EventTypeSessionCreated:
		out := domain.SessionReady{}
		if ev.Session != nil {
			out.SessionID = ev.Session.ID
		}
		return out

	case EventTypeSessionUpdated:
		out := domain.SessionConfigured{}
		if ev.Session != nil {
			out.SessionID = ev.Session.ID
		}
		return out

	case EventTypeSpeechStarted:
		return domain.SpeechStarted{ItemID: ev.ItemID, AudioStartMs: ev.AudioStartMs}

	case EventTypeSpeechStopped:
		return domain.SpeechStopped{ItemID: ev.ItemID, AudioEndMs: ev.AudioEndMs}

	case EventTypeInputTranscriptDone:
		return domain.UserTranscript{ItemID: ev.ItemID, Text: ev.Transcript}

	case EventTypeAudioTranscriptDelta, EventTypeOutputTranscriptDelta,
		EventTypeTextDelta, EventTypeOutputTextDelta:
		return domain.TranscriptDelta{ResponseID: ev.ResponseID, ItemID: ev.ItemID, Text: ev.Delta}

	case EventTypeAudioDelta, EventTypeOutputAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return malformed(raw, fmt.Errorf("%w: audio delta: %v", domain.ErrProtocol, err))
		}
		frame, err := entities.NewAudioFrame(pcm)
		if err != nil {
			return malformed(raw, fmt.Errorf("%w: audio delta: %v", domain.ErrProtocol, err))
		}
		return domain.AudioDelta{ResponseID: ev.ResponseID, ItemID: ev.ItemID, Frame: frame}

	case EventTypeResponseDone:
		out := domain.ResponseDone{ResponseID: ev.ResponseID}
		if ev.Response != nil {
			out.ResponseID = ev.Response.ID
			out.Status = ev.Response.Status
		}
		return out

	case EventTypeOutputAudioBufferStop:
		return domain.AudioPlaybackStopped{ResponseID: ev.ResponseID}

	case EventTypeOutputItemAdded:
		if ev.Item == nil || ev.Item.Type != itemTypeFunctionCall {
			return domain.Ignored{Type: ev.Type}
		}
		if ev.Item.CallID == "" {
			return malformed(raw, fmt.Errorf("%w: function call without call_id", domain.ErrProtocol))
		}
		return domain.ToolCallStarted{ResponseID: ev.ResponseID, CallID: ev.Item.CallID, Name: ev.Item.Name}

	case EventTypeFunctionArgumentsDelta:
		return domain.ToolArgumentsDelta{CallID: ev.CallID, Delta: ev.Delta}

	case EventTypeFunctionArgumentsDone:
		return domain.ToolArgumentsDone{CallID: ev.CallID, Name: ev.Name, Arguments: ev.Arguments}

	case EventTypeError:
		perr := ev.Error
		if perr == nil {
			perr = &domain.ProviderError{Message: "unknown error"}
		}
		return domain.ProviderErrorEvent{Err: perr}

	default:
		return domain.Ignored{Type: ev.Type}
	}
}

func malformed(raw []byte, err error) domain.MalformedEvent {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return domain.MalformedEvent{Raw: buf, Err: err}
}

type sessionUpdateEvent struct {
	EventID string               `json:"event_id"`
	Type    string               `json:"type"`
	Session domain.SessionConfig `json:"session"`
}

type audioAppendEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Audio   string `json:"audio"`
}

type functionCallOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type itemCreateEvent struct {
	EventID string                 `json:"event_id"`
	Type    string                 `json:"type"`
	Item    functionCallOutputItem `json:"item"`
}

type bareEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// EncodeEvent serializes an outbound message in the provider's format.
func EncodeEvent(event domain.ClientEvent) ([]byte, error) {
	var payload any
	switch ev := event.(type) {
	case domain.SessionUpdate:
		payload = sessionUpdateEvent{EventID: generateEventID(), Type: ClientEventSessionUpdate, Session: ev.Config}
	case domain.AppendAudio:
		payload = audioAppendEvent{
			EventID: generateEventID(),
			Type:    ClientEventInputAudioAppend,
			Audio:   base64.StdEncoding.EncodeToString(ev.Frame.Bytes()),
		}
	case domain.ToolResult:
		payload = itemCreateEvent{
			EventID: generateEventID(),
			Type:    ClientEventConversationItemAdd,
			Item: functionCallOutputItem{
				Type:   itemTypeFunctionCallOutput,
				CallID: ev.CallID,
				Output: ev.Output,
			},
		}
	case domain.ResponseCreate:
		payload = bareEvent{EventID: generateEventID(), Type: ClientEventResponseCreate}
	default:
		return nil, fmt.Errorf("unsupported client event %T", event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event.ClientEventType(), err)
	}
	return data, nil
}

// PeekType returns the "type" field of a JSON message, or "" if absent.
func PeekType(raw []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Type
}

func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}
