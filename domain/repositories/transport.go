package repositories

import (
	"context"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
)

// Transport is the duplex link to the realtime provider.
type Transport interface {
	// Connect resolves once messages can be sent. Errors wrap
	// domain.ErrAuth, domain.ErrNetwork or domain.ErrProtocol.
	Connect(ctx context.Context) error
	// Send enqueues one outbound message.
	Send(event domain.ClientEvent) error
	// OnMessage registers the inbound handler. Events are delivered in
	// receipt order from a single goroutine. Must be called before Connect.
	OnMessage(handler func(domain.Event))
	// OnStateChange registers a connection state observer. Must be called
	// before Connect.
	OnStateChange(handler func(entities.ConnState))
	State() entities.ConnState
	// Close tears the link down. Safe to call more than once.
	Close() error
}
