package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/voicebridge/adapters/azure"
	"github.com/satriahrh/voicebridge/domain"
)

const upstreamHandshakeTimeout = 15 * time.Second

// UpstreamDialer opens the provider side of a relay.
type UpstreamDialer interface {
	Dial(ctx context.Context) (*websocket.Conn, error)
}

// AzureDialer dials the Azure realtime websocket.
type AzureDialer struct {
	url    string
	auth   azure.Authorizer
	dialer *websocket.Dialer
}

// NewAzureDialer creates a dialer for config's realtime deployment.
func NewAzureDialer(config azure.Config, auth azure.Authorizer) *AzureDialer {
	return &AzureDialer{
		url:  config.RealtimeURL(),
		auth: auth,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: upstreamHandshakeTimeout,
		},
	}
}

// Dial connects and authenticates.
func (d *AzureDialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if err := d.auth.Apply(ctx, header); err != nil {
		return nil, fmt.Errorf("failed to authorize upstream: %w: %v", domain.ErrAuth, err)
	}
	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("failed to dial upstream: %w: status %d", domain.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial upstream: %w: %v", domain.ErrNetwork, err)
	}
	return conn, nil
}
