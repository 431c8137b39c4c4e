package entities

import (
	"testing"
	"time"
)

func TestAudioFrameIsImmutable(t *testing.T) {
	src := []byte{0x01, 0x00, 0xff, 0x7f}
	frame, err := NewAudioFrame(src)
	if err != nil {
		t.Fatalf("NewAudioFrame returned error: %v", err)
	}

	src[0] = 0x55
	if got := frame.Bytes()[0]; got != 0x01 {
		t.Errorf("frame aliased its input, got first byte %#x", got)
	}

	out := frame.Bytes()
	out[1] = 0x66
	if got := frame.Bytes()[1]; got != 0x00 {
		t.Errorf("frame aliased its output, got second byte %#x", got)
	}
}

func TestAudioFrameRejectsOddLength(t *testing.T) {
	if _, err := NewAudioFrame([]byte{1, 2, 3}); err != ErrOddFrameLength {
		t.Errorf("Expected ErrOddFrameLength, got %v", err)
	}
}

func TestAudioFrameSamples(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	frame := NewAudioFrameFromSamples(samples)

	if frame.Len() != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), frame.Len())
	}
	got := frame.Samples()
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}

	if d := NewAudioFrameFromSamples(make([]int16, 2400)).Duration(24000); d != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", d)
	}
}

func TestPendingToolCallArguments(t *testing.T) {
	call := NewPendingToolCall("call_1", "get_weather", time.Now())
	for _, part := range []string{`{"ci`, `ty":"Pa`, `ris"}`} {
		call.AppendArguments(part)
	}
	if got := call.Arguments(); got != `{"city":"Paris"}` {
		t.Errorf("Expected concatenated arguments, got %q", got)
	}
}

func TestConnStateTerminal(t *testing.T) {
	tests := []struct {
		state    ConnState
		terminal bool
	}{
		{ConnStateIdle, false},
		{ConnStateConnecting, false},
		{ConnStateOpen, false},
		{ConnStateClosed, true},
		{ConnStateFailed, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestSessionCredentialExpired(t *testing.T) {
	now := time.Now()
	cred := &SessionCredential{ExpiresAt: now.Add(time.Minute)}
	if cred.Expired(now) {
		t.Error("credential should still be valid")
	}
	if !cred.Expired(now.Add(2 * time.Minute)) {
		t.Error("credential should be expired")
	}
	if (&SessionCredential{}).Expired(now) {
		t.Error("credential without expiry should never expire")
	}
}

func TestActivityLogBounds(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("max entries", func(t *testing.T) {
		log := NewActivityLog(time.Hour, 3)
		for i := 0; i < 5; i++ {
			log.Append(ActivityEvent{Timestamp: base.Add(time.Duration(i) * time.Second), Kind: SpeakingUser})
		}
		events := log.Events()
		if len(events) != 3 {
			t.Fatalf("Expected 3 events, got %d", len(events))
		}
		if !events[0].Timestamp.Equal(base.Add(2 * time.Second)) {
			t.Errorf("oldest retained event is %v", events[0].Timestamp)
		}
	})

	t.Run("window", func(t *testing.T) {
		log := NewActivityLog(time.Minute, 100)
		log.Append(ActivityEvent{Timestamp: base, Kind: SpeakingUser})
		log.Append(ActivityEvent{Timestamp: base.Add(30 * time.Second), Kind: SpeakingAI})
		log.Append(ActivityEvent{Timestamp: base.Add(90 * time.Second), Kind: SpeakingSilence})

		events := log.Events()
		if len(events) != 2 {
			t.Fatalf("Expected 2 events inside the window, got %d", len(events))
		}
		if events[0].Kind != SpeakingAI {
			t.Errorf("Expected ai to be the oldest retained kind, got %s", events[0].Kind)
		}
		if got := log.Since(base.Add(60 * time.Second)); len(got) != 1 {
			t.Errorf("Expected 1 event since +60s, got %d", len(got))
		}
	})
}
