package usecase

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/voicebridge/domain/entities"
)

func TestHistory(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	h := NewHistory(mock)

	changes := 0
	unsubscribe := h.Subscribe(func() { changes++ })

	h.AddUserMessage("hi")
	h.AppendAI("r1", "Hel")
	mock.Add(time.Second)
	h.AppendAI("r1", "lo")

	msgs := h.Messages(false)
	if len(msgs) != 1 || msgs[0].Role != entities.MessageRoleUser {
		t.Fatalf("Expected only the sealed user message, got %+v", msgs)
	}
	msgs = h.Messages(true)
	if len(msgs) != 2 || msgs[1].Content != "Hello" || msgs[1].Sealed {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !msgs[1].CreatedAt.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected the message to keep its first timestamp, got %s", msgs[1].CreatedAt)
	}

	msgs[1].Content = "mutated"
	if open, _ := h.Open(); open.Content != "Hello" {
		t.Errorf("Messages should return a copy")
	}

	if !h.SealAI() {
		t.Errorf("Expected SealAI to seal the open message")
	}
	if h.SealAI() {
		t.Errorf("Expected a second SealAI to be a no-op")
	}
	if changes != 4 {
		t.Errorf("Expected 4 notifications, got %d", changes)
	}

	unsubscribe()
	h.AddUserMessage("bye")
	if changes != 4 {
		t.Errorf("Expected no notification after unsubscribe")
	}
	if n := len(h.Messages(true)); n != 3 {
		t.Errorf("Expected 3 messages, got %d", n)
	}
}

func TestHistoryNewResponseSealsOpenMessage(t *testing.T) {
	h := NewHistory(clock.NewMock())
	h.AppendAI("r1", "first")
	h.AppendAI("r2", "second")

	msgs := h.Messages(true)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if !msgs[0].Sealed || msgs[0].ResponseID != "r1" {
		t.Errorf("Expected r1 to be sealed, got %+v", msgs[0])
	}
	if msgs[1].Sealed || msgs[1].Content != "second" {
		t.Errorf("Expected r2 to be open, got %+v", msgs[1])
	}
}
