package usecase

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/internal/metrics"
)

// Interpreter turns provider events into speaking-state transitions,
// transcript updates, playback and tool dispatch. It is not safe for
// concurrent use; the conversation loop serializes every call.
type Interpreter struct {
	history  *History
	tools    *ToolOrchestrator
	activity *entities.ActivityLog
	player   AudioPlayer
	send     func(domain.ClientEvent) error
	clock    clock.Clock
	logger   *zap.Logger

	speaking       entities.SpeakingState
	priorState     entities.SpeakingState
	responseActive bool
	resumePending  bool
	playbackBusy   bool
	responseID     string
	sessionID      string
	configured     bool
	lastError      error
	version        uint64
}

// NewInterpreter wires an interpreter. player may be nil when audio is not
// played locally.
func NewInterpreter(
	history *History,
	orchestrator *ToolOrchestrator,
	activity *entities.ActivityLog,
	player AudioPlayer,
	send func(domain.ClientEvent) error,
	clk clock.Clock,
	logger *zap.Logger,
) *Interpreter {
	if clk == nil {
		clk = clock.New()
	}
	return &Interpreter{
		history:    history,
		tools:      orchestrator,
		activity:   activity,
		player:     player,
		send:       send,
		clock:      clk,
		logger:     logger,
		speaking:   entities.SpeakingSilence,
		priorState: entities.SpeakingSilence,
	}
}

// Speaking returns the current speaking state.
func (i *Interpreter) Speaking() entities.SpeakingState {
	return i.speaking
}

// Handle applies one inbound event.
func (i *Interpreter) Handle(event domain.Event) {
	switch ev := event.(type) {
	case domain.SessionReady:
		i.sessionID = ev.SessionID
		i.touch()
		i.logger.Info("Realtime session ready", zap.String("sessionID", ev.SessionID))

	case domain.SessionConfigured:
		i.configured = true
		i.touch()
		i.logger.Debug("Realtime session configured")

	case domain.SpeechStarted:
		if i.speaking == entities.SpeakingTool {
			i.priorState = entities.SpeakingUser
			return
		}
		i.setSpeaking(entities.SpeakingUser, ev.EventType())

	case domain.SpeechStopped:
		next := entities.SpeakingSilence
		if i.responseActive || i.playbackBusy {
			next = entities.SpeakingAI
		}
		if i.speaking == entities.SpeakingTool {
			i.priorState = next
			return
		}
		i.setSpeaking(next, ev.EventType())

	case domain.UserTranscript:
		i.history.AddUserMessage(ev.Text)

	case domain.TranscriptDelta:
		i.beginResponse(ev.ResponseID, ev.EventType())
		i.history.AppendAI(ev.ResponseID, ev.Text)

	case domain.AudioDelta:
		i.beginResponse(ev.ResponseID, ev.EventType())
		if i.player == nil {
			return
		}
		if err := i.player.Enqueue(ev.Frame); err != nil {
			i.logger.Debug("Dropping audio delta", zap.Error(err))
			return
		}
		i.playbackBusy = true

	case domain.ResponseDone:
		i.history.SealAI()
		i.responseActive = false
		i.touch()
		if ev.Status != "" && ev.Status != "completed" {
			i.logger.Info("Response finished",
				zap.String("responseID", ev.ResponseID),
				zap.String("status", ev.Status))
		}
		if i.resumePending {
			i.resume()
			return
		}
		if !i.playbackBusy {
			i.settle(ev.EventType())
		}

	case domain.AudioPlaybackStopped:
		if i.player != nil && i.player.Busy() {
			return
		}
		i.PlaybackDrained()

	case domain.ToolCallStarted:
		if i.speaking != entities.SpeakingTool {
			i.priorState = i.speaking
		}
		i.setSpeaking(entities.SpeakingTool, ev.Name)
		i.responseActive = true
		i.tools.Begin(ev.CallID, ev.Name)

	case domain.ToolArgumentsDelta:
		i.tools.Append(ev.CallID, ev.Delta)

	case domain.ToolArgumentsDone:
		i.tools.Complete(ev.CallID, ev.Name, ev.Arguments)

	case domain.ProviderErrorEvent:
		if ev.Err == nil {
			return
		}
		i.lastError = ev.Err
		i.touch()
		i.logger.Warn("Provider reported an error", zap.Error(ev.Err))

	case domain.MalformedEvent:
		metrics.RecordMalformedEvent("session")
		i.logger.Warn("Dropping malformed event",
			zap.Int("size", len(ev.Raw)),
			zap.Error(ev.Err))

	case domain.Ignored:
		i.logger.Debug("Ignoring event", zap.String("type", ev.Type))
	}
}

// PlaybackDrained records that local playback ran out of queued audio.
func (i *Interpreter) PlaybackDrained() {
	i.playbackBusy = false
	i.settle("playback-drained")
}

// ToolResolved sends a finished call's output. Once no call is outstanding
// and the response that requested the calls is done, generation is resumed
// and the state held before the tool is restored.
func (i *Interpreter) ToolResolved(outcome ToolOutcome) {
	if !i.tools.Resolve(outcome.CallID) {
		i.logger.Debug("Discarding stale tool result", zap.String("callID", outcome.CallID))
		return
	}
	if err := i.send(domain.ToolResult{CallID: outcome.CallID, Output: outcome.Output}); err != nil {
		i.logger.Warn("Failed to send tool result",
			zap.String("callID", outcome.CallID),
			zap.Error(err))
	}
	i.touch()
	if !i.tools.Idle() {
		return
	}
	if i.responseActive {
		// The provider rejects response.create while a response is active.
		i.resumePending = true
		return
	}
	i.resume()
}

func (i *Interpreter) resume() {
	i.resumePending = false
	if err := i.send(domain.ResponseCreate{}); err != nil {
		i.logger.Warn("Failed to resume response", zap.Error(err))
	} else {
		i.responseActive = true
	}
	if i.speaking == entities.SpeakingTool {
		i.setSpeaking(i.priorState, "tool-resolved")
	}
}

// Resync discards per-connection state after the link was re-established.
func (i *Interpreter) Resync() {
	i.tools.Reset()
	i.history.SealAI()
	i.responseActive = false
	i.resumePending = false
	i.playbackBusy = i.player != nil && i.player.Busy()
	i.configured = false
	i.priorState = entities.SpeakingSilence
	if i.playbackBusy {
		i.setSpeaking(entities.SpeakingAI, "resync")
		return
	}
	i.setSpeaking(entities.SpeakingSilence, "resync")
}

// Halt clears response and playback flags and forces silence.
func (i *Interpreter) Halt(detail string) {
	i.responseActive = false
	i.resumePending = false
	i.playbackBusy = false
	i.priorState = entities.SpeakingSilence
	i.setSpeaking(entities.SpeakingSilence, detail)
}

// LastError is the most recent provider error.
func (i *Interpreter) LastError() error {
	return i.lastError
}

func (i *Interpreter) beginResponse(responseID, detail string) {
	if responseID != "" && responseID != i.responseID {
		i.responseID = responseID
	}
	i.responseActive = true
	switch i.speaking {
	case entities.SpeakingUser, entities.SpeakingTool, entities.SpeakingAI:
		return
	}
	i.setSpeaking(entities.SpeakingAI, detail)
}

// settle moves ai to silence once nothing is generating or playing. While a
// tool runs the same rule applies to the state it will restore.
func (i *Interpreter) settle(detail string) {
	if i.responseActive || i.playbackBusy {
		return
	}
	switch i.speaking {
	case entities.SpeakingAI:
		i.setSpeaking(entities.SpeakingSilence, detail)
	case entities.SpeakingTool:
		if i.priorState == entities.SpeakingAI {
			i.priorState = entities.SpeakingSilence
		}
	}
}

func (i *Interpreter) setSpeaking(state entities.SpeakingState, detail string) {
	if i.speaking == state {
		return
	}
	i.speaking = state
	i.touch()
	i.activity.Append(entities.ActivityEvent{
		Timestamp: i.clock.Now(),
		Kind:      state,
		Detail:    detail,
	})
	metrics.RecordSpeakingTransition(string(state))
	i.logger.Debug("Speaking state changed",
		zap.String("state", string(state)),
		zap.String("detail", detail))
}

func (i *Interpreter) touch() {
	i.version++
}
