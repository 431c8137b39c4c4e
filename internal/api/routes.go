package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/adapters/azure"
	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/auth"
	"github.com/satriahrh/voicebridge/internal/metrics"
	"github.com/satriahrh/voicebridge/internal/websocket"
)

// InitRoutes initializes all API routes. A nil broker means Azure is not
// configured; a nil signer leaves /session open and disables /ws.
func InitRoutes(e *echo.Echo, hub *websocket.Hub, broker repositories.CredentialBroker, signer *auth.Signer, reg *prometheus.Registry, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
	})

	if reg != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))
	}

	e.POST("/session", func(c echo.Context) error {
		if signer != nil {
			if _, err := authenticate(c, signer); err != nil {
				logger.Warn("Session request rejected", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or missing bearer token",
				})
			}
		}
		return mintSession(c, broker, logger)
	})

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(hub, signer, c, logger)
	})
}

func mintSession(c echo.Context, broker repositories.CredentialBroker, logger *zap.Logger) error {
	start := time.Now()
	status, body := http.StatusOK, any(nil)
	defer func() {
		metrics.RecordBrokerRequest(status, time.Since(start).Seconds())
	}()

	if broker == nil {
		status = http.StatusInternalServerError
		return c.JSON(status, ErrorResponse{
			Error:   "server_misconfigured",
			Message: "Missing Azure OpenAI credentials",
		})
	}

	cred, err := broker.MintSession(c.Request().Context())
	if err != nil {
		status, body = sessionError(err)
		logger.Error("Failed to mint session", zap.Int("status", status), zap.Error(err))
		return c.JSON(status, body)
	}

	return c.JSON(status, SessionResponse{
		SessionCredential: cred,
		ClientSecret: ClientSecret{
			Value:     cred.Credential,
			ExpiresAt: cred.ExpiresAt.Unix(),
		},
	})
}

func sessionError(err error) (int, ErrorResponse) {
	var upstream *azure.UpstreamError
	switch {
	case errors.Is(err, azure.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "upstream_timeout", Message: "Request to Azure OpenAI timed out"}
	case errors.As(err, &upstream):
		return upstream.StatusCode, ErrorResponse{Error: "upstream_error", Message: upstream.Body}
	case errors.Is(err, domain.ErrAuth):
		return http.StatusInternalServerError, ErrorResponse{Error: "server_misconfigured", Message: "Failed to authorize against Azure OpenAI"}
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "upstream_unavailable", Message: "Network error reaching Azure OpenAI"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()}
	}
}

// authenticate accepts the JWT from the Authorization header or, for browser
// websockets that cannot set headers, the token query parameter.
func authenticate(c echo.Context, signer *auth.Signer) (*auth.JWTClaims, error) {
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		token = rest
	}
	if token == "" {
		token = c.QueryParam("token")
	}
	if token == "" {
		return nil, errMissingToken
	}
	return signer.ValidateToken(token)
}

var errMissingToken = errors.New("missing bearer token")

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(hub *websocket.Hub, signer *auth.Signer, c echo.Context, logger *zap.Logger) error {
	if signer == nil {
		logger.Error("WebSocket connection rejected: JWT_SECRET is not configured")
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "relay_disabled",
			Message: "Relay authentication is not configured",
		})
	}
	if hub == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "relay_disabled",
			Message: "Missing Azure OpenAI credentials",
		})
	}

	claims, err := authenticate(c, signer)
	if errors.Is(err, errMissingToken) {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in the Authorization header or token query",
		})
	}
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("clientID", claims.ClientID),
		zap.String("role", claims.Role))

	return websocket.HandleWebSocketWithAuth(hub, c, claims.ClientID, logger)
}
