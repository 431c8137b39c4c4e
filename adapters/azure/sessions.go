package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

// ErrUpstreamTimeout means the control plane did not answer in time.
var ErrUpstreamTimeout = errors.New("azure request timed out")

// UpstreamError is a non-200 answer from the sessions endpoint.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("azure sessions api returned %d: %s", e.StatusCode, e.Body)
}

// SessionBroker mints ephemeral realtime credentials.
type SessionBroker struct {
	config Config
	auth   Authorizer
	client *http.Client
	logger *zap.Logger
}

var _ repositories.CredentialBroker = (*SessionBroker)(nil)

// NewSessionBroker creates a broker. The config must pass ValidateConfig.
func NewSessionBroker(config Config, auth Authorizer, logger *zap.Logger) (*SessionBroker, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	config = config.withDefaults()
	logger.Info("Session broker configured",
		zap.String("deployment", config.Deployment),
		zap.String("region", config.Region),
		zap.String("sessionsURL", config.SessionsURL()))

	return &SessionBroker{
		config: config,
		auth:   auth,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}, nil
}

type sessionRequest struct {
	Model                   string                    `json:"model"`
	Voice                   string                    `json:"voice"`
	Instructions            string                    `json:"instructions,omitempty"`
	TurnDetection           entities.TurnDetection    `json:"turn_detection"`
	InputAudioTranscription domain.AudioTranscription `json:"input_audio_transcription"`
}

type sessionResponse struct {
	ID            string                  `json:"id"`
	Model         string                  `json:"model"`
	Voice         string                  `json:"voice"`
	ExpiresAt     int64                   `json:"expires_at"`
	TurnDetection *entities.TurnDetection `json:"turn_detection"`
	ClientSecret  struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// MintSession asks Azure for an ephemeral key and attaches the regional
// WebRTC endpoint.
func (b *SessionBroker) MintSession(ctx context.Context) (*entities.SessionCredential, error) {
	payload, err := json.Marshal(sessionRequest{
		Model:                   b.config.Deployment,
		Voice:                   b.config.Voice,
		Instructions:            b.config.Instructions,
		TurnDetection:           b.config.TurnDetection,
		InputAudioTranscription: domain.AudioTranscription{Model: "whisper-1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.SessionsURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := b.auth.Apply(ctx, req.Header); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			b.logger.Error("Session request timed out", zap.Duration("elapsed", time.Since(start)))
			return nil, fmt.Errorf("failed to mint session: %w", ErrUpstreamTimeout)
		}
		b.logger.Error("Session request failed", zap.Error(err))
		return nil, fmt.Errorf("failed to mint session: %w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w: %v", domain.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		b.logger.Error("Azure API error", zap.Int("status", resp.StatusCode), zap.String("body", string(body)))
		upstream := &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %w", domain.ErrAuth, upstream)
		}
		return nil, upstream
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w: %v", domain.ErrProtocol, err)
	}
	if sr.ClientSecret.Value == "" {
		return nil, fmt.Errorf("failed to decode session response: %w: missing client_secret", domain.ErrProtocol)
	}

	cred := &entities.SessionCredential{
		SessionID:         sr.ID,
		Credential:        sr.ClientSecret.Value,
		TransportEndpoint: b.config.WebRTCURL(),
		Model:             b.config.Deployment,
		Voice:             b.config.Voice,
		TurnDetection:     sr.TurnDetection,
	}
	if sr.Model != "" {
		cred.Model = sr.Model
	}
	if sr.Voice != "" {
		cred.Voice = sr.Voice
	}
	if sr.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(sr.ClientSecret.ExpiresAt, 0).UTC()
	} else if sr.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(sr.ExpiresAt, 0).UTC()
	}

	b.logger.Info("Ephemeral session minted",
		zap.String("sessionID", cred.SessionID),
		zap.String("model", cred.Model),
		zap.String("webrtcURL", cred.TransportEndpoint))
	return cred, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
