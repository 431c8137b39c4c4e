package repositories

import (
	"context"

	"github.com/satriahrh/voicebridge/domain/entities"
)

// CredentialBroker mints short-lived provider credentials.
type CredentialBroker interface {
	MintSession(ctx context.Context) (*entities.SessionCredential, error)
}
