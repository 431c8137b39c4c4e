package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/usecase"
)

// printer writes sealed transcript lines and state changes to the terminal.
type printer struct {
	mu       sync.Mutex
	w        io.Writer
	printed  int
	conn     entities.ConnState
	speaking entities.SpeakingState
	lastErr  error
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

// transcript prints messages not printed yet. Callers pass sealed messages
// only, so the slice only ever grows.
func (p *printer) transcript(messages []entities.TranscriptMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range messages[min(p.printed, len(messages)):] {
		speaker := "You"
		if m.Role == entities.MessageRoleAI {
			speaker = "AI"
		}
		fmt.Fprintf(p.w, "%s: %s\n", speaker, m.Content)
	}
	p.printed = max(p.printed, len(messages))
}

func (p *printer) status(s usecase.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Conn != p.conn {
		p.conn = s.Conn
		fmt.Fprintf(p.w, "[link %s]\n", s.Conn)
	}
	if s.Speaking != p.speaking {
		p.speaking = s.Speaking
		if s.Speaking == entities.SpeakingTool {
			fmt.Fprintf(p.w, "[running %v]\n", s.PendingTools)
		}
	}
	if s.LastError != nil && s.LastError != p.lastErr {
		p.lastErr = s.LastError
		fmt.Fprintf(p.w, "[provider error: %v]\n", s.LastError)
	}
}
