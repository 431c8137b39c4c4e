// Package broker fetches ephemeral session credentials from the voice
// server's POST /session endpoint.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

// Client implements repositories.CredentialBroker against our own server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

var _ repositories.CredentialBroker = (*Client)(nil)

// NewClient creates a client for the server at baseURL. The bearer token is
// optional.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 35 * time.Second},
		logger:  logger,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MintSession requests a fresh credential.
func (c *Client) MintSession(ctx context.Context) (*entities.SessionCredential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request session: %w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w: %v", domain.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		json.Unmarshal(body, &er)
		msg := er.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("failed to request session: %w: %s", domain.ErrAuth, msg)
		case http.StatusGatewayTimeout, http.StatusServiceUnavailable:
			return nil, fmt.Errorf("failed to request session: %w: status %d: %s", domain.ErrNetwork, resp.StatusCode, msg)
		default:
			return nil, fmt.Errorf("failed to request session: %w: status %d: %s", domain.ErrProtocol, resp.StatusCode, msg)
		}
	}

	var cred entities.SessionCredential
	if err := json.Unmarshal(body, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w: %v", domain.ErrProtocol, err)
	}
	if cred.Credential == "" {
		return nil, fmt.Errorf("failed to decode session response: %w: empty credential", domain.ErrProtocol)
	}
	c.logger.Debug("Session credential received",
		zap.String("sessionID", cred.SessionID),
		zap.Time("expiresAt", cred.ExpiresAt))
	return &cred, nil
}
