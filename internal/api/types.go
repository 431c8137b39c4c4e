package api

import "github.com/satriahrh/voicebridge/domain/entities"

// SessionResponse is the POST /session payload. The credential is repeated
// under client_secret in the shape Azure itself uses.
type SessionResponse struct {
	*entities.SessionCredential
	ClientSecret ClientSecret `json:"client_secret"`
}

// ClientSecret carries the ephemeral key and its unix expiry.
type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// HealthResponse is the GET /health payload.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
