package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicebridge/adapters/azure"
	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/auth"
	"github.com/satriahrh/voicebridge/internal/metrics"
)

type stubBroker struct {
	cred *entities.SessionCredential
	err  error
}

func (b *stubBroker) MintSession(ctx context.Context) (*entities.SessionCredential, error) {
	return b.cred, b.err
}

func newTestEcho(t *testing.T, broker repositories.CredentialBroker, signer *auth.Signer) *echo.Echo {
	e := echo.New()
	InitRoutes(e, nil, broker, signer, metrics.NewRegistry(), zaptest.NewLogger(t))
	return e
}

func serve(e *echo.Echo, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(newTestEcho(t, nil, nil), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"status":"healthy"}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestMintSession(t *testing.T) {
	expires := time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC)
	broker := &stubBroker{cred: &entities.SessionCredential{
		SessionID:         "sess_1",
		Credential:        "ek_abc",
		ExpiresAt:         expires,
		TransportEndpoint: "https://eastus2.realtimeapi-preview.ai.azure.com/v1/realtimertc",
		Model:             "gpt-realtime",
		Voice:             "alloy",
	}}

	rec := serve(newTestEcho(t, broker, nil), http.MethodPost, "/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		ID           string `json:"id"`
		Credential   string `json:"credential"`
		WebRTCURL    string `json:"webrtc_url"`
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body.ID != "sess_1" || body.Credential != "ek_abc" || body.ClientSecret.Value != "ek_abc" {
		t.Errorf("unexpected credential %+v", body)
	}
	if body.ClientSecret.ExpiresAt != expires.Unix() {
		t.Errorf("Expected expiry %d, got %d", expires.Unix(), body.ClientSecret.ExpiresAt)
	}
	if body.WebRTCURL != broker.cred.TransportEndpoint {
		t.Errorf("Expected webrtc_url %s, got %s", broker.cred.TransportEndpoint, body.WebRTCURL)
	}
}

func TestMintSessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		broker     repositories.CredentialBroker
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing credentials",
			broker:     nil,
			wantStatus: http.StatusInternalServerError,
			wantError:  "server_misconfigured",
		},
		{
			name:       "upstream timeout",
			broker:     &stubBroker{err: fmt.Errorf("failed to mint session: %w", azure.ErrUpstreamTimeout)},
			wantStatus: http.StatusGatewayTimeout,
			wantError:  "upstream_timeout",
		},
		{
			name:       "network error",
			broker:     &stubBroker{err: fmt.Errorf("failed to mint session: %w: refused", domain.ErrNetwork)},
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "upstream_unavailable",
		},
		{
			name:       "upstream status passes through",
			broker:     &stubBroker{err: &azure.UpstreamError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}},
			wantStatus: http.StatusTooManyRequests,
			wantError:  "upstream_error",
		},
		{
			name:       "upstream auth rejection passes through",
			broker:     &stubBroker{err: fmt.Errorf("%w: %w", domain.ErrAuth, &azure.UpstreamError{StatusCode: http.StatusUnauthorized})},
			wantStatus: http.StatusUnauthorized,
			wantError:  "upstream_error",
		},
		{
			name:       "unexpected",
			broker:     &stubBroker{err: fmt.Errorf("boom")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestEcho(t, tt.broker, nil), http.MethodPost, "/session", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var body ErrorResponse
			json.Unmarshal(rec.Body.Bytes(), &body)
			if body.Error != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, body.Error)
			}
		})
	}
}

func TestSessionRequiresTokenWhenSigning(t *testing.T) {
	signer, err := auth.NewSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner returned error: %v", err)
	}
	broker := &stubBroker{cred: &entities.SessionCredential{Credential: "ek_abc"}}
	e := newTestEcho(t, broker, signer)

	if rec := serve(e, http.MethodPost, "/session", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}

	token, _ := signer.GenerateClientToken("laptop")
	if rec := serve(e, http.MethodPost, "/session", token); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rec.Code)
	}
}

func TestWebSocketRejections(t *testing.T) {
	signer, _ := auth.NewSigner("test-secret", time.Hour)

	tests := []struct {
		name       string
		signer     *auth.Signer
		target     string
		token      string
		wantStatus int
		wantError  string
	}{
		{name: "relay disabled", signer: nil, target: "/ws", wantStatus: http.StatusServiceUnavailable, wantError: "relay_disabled"},
		{name: "no hub", signer: signer, target: "/ws?token=x", wantStatus: http.StatusServiceUnavailable, wantError: "relay_disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestEcho(t, nil, tt.signer), http.MethodGet, tt.target, tt.token)
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var body ErrorResponse
			json.Unmarshal(rec.Body.Bytes(), &body)
			if body.Error != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, body.Error)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	signer, _ := auth.NewSigner("test-secret", time.Hour)
	token, _ := signer.GenerateClientToken("laptop")

	tests := []struct {
		name    string
		target  string
		header  string
		wantID  string
		wantErr bool
	}{
		{name: "header", target: "/ws", header: "Bearer " + token, wantID: "laptop"},
		{name: "query", target: "/ws?token=" + token, wantID: "laptop"},
		{name: "missing", target: "/ws", wantErr: true},
		{name: "wrong scheme", target: "/ws", header: "Basic " + token, wantErr: true},
		{name: "garbage", target: "/ws?token=nope", wantErr: true},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			claims, err := authenticate(c, signer)
			if (err != nil) != tt.wantErr {
				t.Fatalf("authenticate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && claims.ClientID != tt.wantID {
				t.Errorf("Expected client %s, got %s", tt.wantID, claims.ClientID)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	rec := serve(newTestEcho(t, nil, nil), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "voicebridge_") {
		t.Errorf("metrics output is missing voicebridge collectors")
	}
}
