package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
)

type conversationFixture struct {
	service   *ConversationService
	transport *fakeTransport
	player    *fakePlayer
	recorder  *fakeRecorder
}

func newConversationFixture(t *testing.T, release <-chan struct{}) *conversationFixture {
	f := &conversationFixture{
		transport: newFakeTransport(),
		player:    &fakePlayer{},
		recorder:  &fakeRecorder{},
	}
	config := ConversationConfig{
		Session: domain.DefaultSessionConfig("alloy", "Be brief."),
		Clock:   clock.NewMock(),
	}
	f.service = NewConversationService(f.transport, f.recorder, f.player, newTestRegistry(t, release), config, zaptest.NewLogger(t))
	t.Cleanup(func() { f.service.Stop() })
	return f
}

func (f *conversationFixture) start(t *testing.T) {
	t.Helper()
	if err := f.service.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	flush(t, f.service)
}

func TestConversationParisWeather(t *testing.T) {
	f := newConversationFixture(t, nil)
	f.start(t)

	sent := f.transport.sentEvents()
	if len(sent) != 1 {
		t.Fatalf("Expected the session configuration on open, got %d events", len(sent))
	}
	update, ok := sent[0].(domain.SessionUpdate)
	if !ok {
		t.Fatalf("Expected SessionUpdate, got %#v", sent[0])
	}
	names := []string{}
	for _, def := range update.Config.Tools {
		names = append(names, def.Name)
	}
	if !strings.Contains(strings.Join(names, ","), "get_weather") || update.Config.ToolChoice != "auto" {
		t.Errorf("unexpected tool configuration %v / %s", names, update.Config.ToolChoice)
	}

	f.recorder.push(testFrame)
	if n := f.transport.countSent("input_audio_buffer.append"); n != 1 {
		t.Errorf("Expected captured audio to be appended, got %d", n)
	}

	f.transport.emit(
		domain.SessionReady{SessionID: "sess_1"},
		domain.SessionConfigured{SessionID: "sess_1"},
		domain.SpeechStarted{},
	)
	flush(t, f.service)
	if snap := f.service.Snapshot(); snap.Speaking != entities.SpeakingUser || snap.SessionID != "sess_1" || !snap.Configured {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	f.transport.emit(
		domain.SpeechStopped{},
		domain.UserTranscript{Text: "What's the weather in Paris?"},
		domain.ToolCallStarted{ResponseID: "r1", CallID: "call_1", Name: "get_weather"},
		domain.ToolArgumentsDelta{CallID: "call_1", Delta: `{"city":`},
		domain.ToolArgumentsDelta{CallID: "call_1", Delta: `"Paris, France"}`},
		domain.ToolArgumentsDone{CallID: "call_1", Name: "get_weather"},
		domain.ResponseDone{ResponseID: "r1"},
	)

	eventually(t, func() bool { return f.transport.countSent("response.create") == 1 })
	sent = f.transport.sentEvents()
	var result domain.ToolResult
	for _, ev := range sent {
		if r, ok := ev.(domain.ToolResult); ok {
			result = r
		}
	}
	if result.CallID != "call_1" || !strings.Contains(result.Output, `"location":"Paris"`) || !strings.Contains(result.Output, `"ok":true`) {
		t.Errorf("unexpected tool result %+v", result)
	}
	if _, ok := sent[len(sent)-1].(domain.ResponseCreate); !ok {
		t.Errorf("Expected response.create after the tool result")
	}

	flush(t, f.service)
	if snap := f.service.Snapshot(); snap.Speaking != entities.SpeakingSilence || len(snap.PendingTools) != 0 {
		t.Errorf("unexpected snapshot after tool %+v", snap)
	}

	f.transport.emit(
		domain.TranscriptDelta{ResponseID: "r2", Text: "It's 18 degrees "},
		domain.AudioDelta{ResponseID: "r2", Frame: testFrame},
		domain.TranscriptDelta{ResponseID: "r2", Text: "and partly cloudy."},
		domain.ResponseDone{ResponseID: "r2"},
	)
	flush(t, f.service)
	if got := f.service.Snapshot().Speaking; got != entities.SpeakingAI {
		t.Errorf("Expected ai while audio plays, got %s", got)
	}

	f.player.drain()
	flush(t, f.service)
	if got := f.service.Snapshot().Speaking; got != entities.SpeakingSilence {
		t.Errorf("Expected silence after playback drained, got %s", got)
	}

	msgs := f.service.History().Messages(true)
	if len(msgs) != 2 || msgs[1].Content != "It's 18 degrees and partly cloudy." || !msgs[1].Sealed {
		t.Errorf("unexpected history %+v", msgs)
	}
}

func TestConversationStopDropsLateEvents(t *testing.T) {
	release := make(chan struct{})
	f := newConversationFixture(t, release)
	f.start(t)

	var observed []Snapshot
	f.service.Observe(func(s Snapshot) { observed = append(observed, s) })

	f.transport.emit(
		domain.ToolCallStarted{CallID: "call_1", Name: "slow"},
		domain.ToolArgumentsDone{CallID: "call_1", Arguments: `{"label":"late"}`},
	)
	flush(t, f.service)
	if snap := f.service.Snapshot(); snap.Speaking != entities.SpeakingTool || len(snap.PendingTools) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := f.service.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	sentAtStop := len(f.transport.sentEvents())
	close(release)

	f.transport.onMessage(domain.SpeechStarted{})
	f.recorder.push(testFrame)

	snap := f.service.Snapshot()
	if snap.Conn != entities.ConnStateClosed || snap.Speaking != entities.SpeakingSilence {
		t.Errorf("unexpected snapshot after stop %+v", snap)
	}
	if n := len(f.transport.sentEvents()); n != sentAtStop {
		t.Errorf("Expected nothing sent after stop, got %d new events", n-sentAtStop)
	}
	if f.recorder.stopCount() == 0 || !f.player.isStopped() {
		t.Errorf("Expected capture and playback to be stopped")
	}
	if len(observed) == 0 || observed[len(observed)-1].Conn != entities.ConnStateClosed {
		t.Errorf("Expected observers to see the closed state")
	}
	if err := f.service.Stop(); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got %v", err)
	}
	if err := f.service.Start(context.Background()); !errors.Is(err, domain.ErrSessionStopped) {
		t.Errorf("Expected ErrSessionStopped, got %v", err)
	}
}

func TestConversationResyncsAfterReconnect(t *testing.T) {
	f := newConversationFixture(t, make(chan struct{}))
	f.start(t)

	f.transport.emit(
		domain.TranscriptDelta{ResponseID: "r1", Text: "Half a sent"},
		domain.ToolCallStarted{CallID: "call_1", Name: "slow"},
	)
	flush(t, f.service)

	f.transport.setState(entities.ConnStateConnecting)
	f.transport.setState(entities.ConnStateOpen)
	flush(t, f.service)

	snap := f.service.Snapshot()
	if snap.Conn != entities.ConnStateOpen || snap.Speaking != entities.SpeakingSilence || len(snap.PendingTools) != 0 {
		t.Errorf("unexpected snapshot after reconnect %+v", snap)
	}
	if n := f.transport.countSent("session.update"); n != 2 {
		t.Errorf("Expected the configuration to be re-sent, got %d updates", n)
	}
	if _, ok := f.service.History().Open(); ok {
		t.Errorf("Expected the open AI message to be sealed")
	}
}

func TestConversationLinkFailure(t *testing.T) {
	f := newConversationFixture(t, nil)
	f.start(t)

	f.transport.emit(domain.AudioDelta{ResponseID: "r1", Frame: testFrame})
	f.transport.setState(entities.ConnStateFailed)
	flush(t, f.service)

	snap := f.service.Snapshot()
	if snap.Conn != entities.ConnStateFailed || snap.Speaking != entities.SpeakingSilence {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if !errors.Is(snap.Err, domain.ErrNetwork) {
		t.Errorf("Expected ErrNetwork, got %v", snap.Err)
	}
	if f.recorder.stopCount() == 0 || !f.player.isStopped() {
		t.Errorf("Expected capture and playback to halt")
	}
}

func TestConversationConnectError(t *testing.T) {
	f := newConversationFixture(t, nil)
	f.transport.connectErr = domain.ErrAuth

	err := f.service.Start(context.Background())
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("Expected ErrAuth, got %v", err)
	}
	flush(t, f.service)
	if snap := f.service.Snapshot(); snap.Conn != entities.ConnStateFailed || !errors.Is(snap.Err, domain.ErrAuth) {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestConversationCaptureError(t *testing.T) {
	f := newConversationFixture(t, nil)
	f.recorder.err = domain.ErrPermissionDenied

	err := f.service.Start(context.Background())
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	if snap := f.service.Snapshot(); snap.Conn != entities.ConnStateClosed {
		t.Errorf("Expected the session to be stopped, got %s", snap.Conn)
	}
	if f.transport.closed == 0 {
		t.Errorf("Expected the transport to be closed")
	}
}
