package azure

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const (
	// tokenRefreshBuffer is the time before token expiration to trigger a refresh.
	tokenRefreshBuffer = 5 * time.Minute

	cognitiveServicesScope = "https://cognitiveservices.azure.com/.default"
)

// Authorizer decorates outbound request headers with a credential.
type Authorizer interface {
	Apply(ctx context.Context, header http.Header) error
}

// NewAuthorizer picks Entra ID or api-key auth from the config.
func NewAuthorizer(config Config) (Authorizer, error) {
	if config.UseEntraID {
		return NewEntraCredential()
	}
	return APIKey(config.APIKey), nil
}

// APIKey authenticates with the resource key.
type APIKey string

func (k APIKey) Apply(ctx context.Context, header http.Header) error {
	if k == "" {
		return fmt.Errorf("azure openai api key is empty")
	}
	header.Set("api-key", string(k))
	return nil
}

// EntraCredential authenticates with an Entra ID bearer token obtained from
// the default credential chain (managed identity, Azure CLI, env vars).
type EntraCredential struct {
	cred        azcore.TokenCredential
	mu          sync.RWMutex
	cachedToken *azcore.AccessToken
}

// NewEntraCredential creates a credential using the default chain.
func NewEntraCredential() (*EntraCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return &EntraCredential{cred: cred}, nil
}

// NewEntraCredentialFrom wraps an existing token credential.
func NewEntraCredentialFrom(cred azcore.TokenCredential) *EntraCredential {
	return &EntraCredential{cred: cred}
}

func (c *EntraCredential) Apply(ctx context.Context, header http.Header) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get Azure token: %w", err)
	}
	header.Set("Authorization", "Bearer "+token.Token)
	return nil
}

func (c *EntraCredential) getToken(ctx context.Context) (*azcore.AccessToken, error) {
	c.mu.RLock()
	if c.cachedToken != nil && c.cachedToken.ExpiresOn.After(time.Now().Add(tokenRefreshBuffer)) {
		token := c.cachedToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.cachedToken != nil && c.cachedToken.ExpiresOn.After(time.Now().Add(tokenRefreshBuffer)) {
		return c.cachedToken, nil
	}

	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{cognitiveServicesScope},
	})
	if err != nil {
		return nil, err
	}
	c.cachedToken = &token
	return &token, nil
}
