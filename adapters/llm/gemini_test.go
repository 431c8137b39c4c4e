package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

type fakeModels struct {
	failures int
	calls    int
	text     string
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("unavailable")
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(f.text, genai.RoleModel),
		}},
	}, nil
}

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{"valid", GeminiConfig{APIKey: "k"}, false},
		{"missing key", GeminiConfig{}, true},
		{"bad temperature", GeminiConfig{APIKey: "k", Temperature: 1.5}, true},
		{"negative timeout", GeminiConfig{APIKey: "k", TimeoutSeconds: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateGeminiConfig(tt.config); (err != nil) != tt.wantErr {
				t.Errorf("ValidateGeminiConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAskRetries(t *testing.T) {
	models := &fakeModels{failures: 2, text: " Paris is the capital of France. "}
	expert := newGeminiExpert(models, GeminiConfig{APIKey: "k"}, zaptest.NewLogger(t))
	expert.backoff = time.Millisecond

	answer, err := expert.Ask(context.Background(), "capital of France?")
	if err != nil {
		t.Fatalf("Ask returned error: %v", err)
	}
	if answer != "Paris is the capital of France." {
		t.Errorf("unexpected answer %q", answer)
	}
	if models.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", models.calls)
	}
}

func TestAskGivesUp(t *testing.T) {
	models := &fakeModels{failures: 5}
	expert := newGeminiExpert(models, GeminiConfig{APIKey: "k"}, zaptest.NewLogger(t))
	expert.backoff = time.Millisecond

	if _, err := expert.Ask(context.Background(), "anything"); err == nil {
		t.Errorf("Expected error after exhausting retries")
	}
	if models.calls != maxAttempts {
		t.Errorf("Expected %d calls, got %d", maxAttempts, models.calls)
	}
}

func TestAskEmptyAnswer(t *testing.T) {
	expert := newGeminiExpert(&fakeModels{text: "   "}, GeminiConfig{APIKey: "k"}, zaptest.NewLogger(t))
	if _, err := expert.Ask(context.Background(), "anything"); err == nil {
		t.Errorf("Expected error for empty answer")
	}
}
