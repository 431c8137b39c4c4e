package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voicebridge/domain/repositories"
)

const (
	defaultModel           = "gemini-2.0-flash"
	defaultTemperature     = 0.3
	defaultMaxOutputTokens = 512
	defaultTimeoutSeconds  = 8
	maxAttempts            = 3

	expertSystemPrompt = "You are an expert consulted by a voice assistant. " +
		"Answer in at most three short sentences of plain spoken language, without markdown or lists."
)

// GeminiConfig holds configuration for the Gemini expert.
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model: (default: "gemini-2.0-flash")
// - Temperature: between 0 and 1 (default: 0.3)
// - MaxOutputTokens: (default: 512)
// - TimeoutSeconds: per attempt (default: 8)
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Google AI API key is required")
	}
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", config.Temperature)
	}
	if config.MaxOutputTokens < 0 {
		return fmt.Errorf("max output tokens must be positive, got %d", config.MaxOutputTokens)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

// NewGeminiConfigFromEnv reads GEMINI_API_KEY and GEMINI_MODEL.
func NewGeminiConfigFromEnv() GeminiConfig {
	return GeminiConfig{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Model:  os.Getenv("GEMINI_MODEL"),
	}
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExpert implements the KnowledgeModel interface using Google's Gemini API
type GeminiExpert struct {
	models  contentGenerator
	logger  *zap.Logger
	model   string
	config  *genai.GenerateContentConfig
	timeout time.Duration
	backoff time.Duration
}

var _ repositories.KnowledgeModel = (*GeminiExpert)(nil)

// NewGeminiExpert creates a new Gemini-backed expert
func NewGeminiExpert(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiExpert, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGeminiExpert(client.Models, config, logger), nil
}

func newGeminiExpert(models contentGenerator, config GeminiConfig, logger *zap.Logger) *GeminiExpert {
	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}
	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	return &GeminiExpert{
		models: models,
		logger: logger,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(expertSystemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr(temperature),
			MaxOutputTokens:   int32(maxOutputTokens),
		},
		timeout: time.Duration(timeoutSeconds) * time.Second,
		backoff: time.Second,
	}
}

// Ask sends one question and returns the answer text.
func (g *GeminiExpert) Ask(ctx context.Context, question string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(question, genai.RoleUser)}

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		response, err = g.models.GenerateContent(attemptCtx, g.model, contents, g.config)
		cancel()
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("failed to ask gemini: %w", ctx.Err())
			case <-time.After(time.Duration(attempt+1) * g.backoff):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to ask gemini: %w", err)
	}

	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", fmt.Errorf("failed to ask gemini: no candidates")
	}

	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	answer := strings.TrimSpace(b.String())
	if answer == "" {
		return "", fmt.Errorf("failed to ask gemini: empty answer")
	}

	g.logger.Info("Expert answered",
		zap.String("questionPreview", preview(question)),
		zap.String("answerPreview", preview(answer)))
	return answer, nil
}

func preview(s string) string {
	return s[:min(50, len(s))]
}
