// Package identity resolves client identity tokens to client descriptors.
// The connection provider treats it as an external collaborator: admission
// verifies tokens through it and cleanup reports advisory state changes back.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/morrigan-server/morrigan/internal/config"
	"github.com/morrigan-server/morrigan/internal/models"
)

// ErrClientNotFound is returned by GetClient when no descriptor exists.
var ErrClientNotFound = errors.New("client not found")

// Verification is the provider's answer for one identity token. When OK is
// false, State and Reason are handed back to the caller verbatim.
type Verification struct {
	OK       bool
	ClientID string
	State    string
	Reason   string
}

// Provider verifies identity tokens and serves client descriptors. A failed
// verification is a normal outcome reported through Verification; errors mean
// the provider itself could not answer.
type Provider interface {
	VerifyIdentity(ctx context.Context, token string) (*Verification, error)
	GetClient(ctx context.Context, clientID string) (*models.ClientDescriptor, error)
	SetClientState(ctx context.Context, clientID, state string) error
}

// NewProvider builds the provider selected by IDENTITY_PROVIDER and wraps it
// in the verification cache.
func NewProvider() (Provider, error) {
	var p Provider
	switch config.Config.IdentityProvider {
	case "static", "":
		static, err := NewStaticProvider(config.Config.IdentityFile)
		if err != nil {
			return nil, err
		}
		p = static
	case "http":
		if config.Config.IdentityURL == "" {
			return nil, errors.New("IDENTITY_URL is required for the http identity provider")
		}
		p = NewHTTPProvider(config.Config.IdentityURL)
	default:
		return nil, fmt.Errorf("unknown IDENTITY_PROVIDER %q, expected static or http", config.Config.IdentityProvider)
	}

	if config.Config.IdentityCacheTTL > 0 {
		p = NewCachedProvider(p, config.Config.IdentityCacheSize,
			time.Duration(config.Config.IdentityCacheTTL)*time.Second)
	}
	return p, nil
}
