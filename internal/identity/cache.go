package identity

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/morrigan-server/morrigan/internal/models"
)

// CachedProvider memoizes successful verifications so repeated admissions by
// the same client skip the underlying provider. Failures are never cached.
type CachedProvider struct {
	next  Provider
	cache *expirable.LRU[string, Verification]
}

func NewCachedProvider(next Provider, size int, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		next:  next,
		cache: expirable.NewLRU[string, Verification](size, nil, ttl),
	}
}

func (p *CachedProvider) VerifyIdentity(ctx context.Context, token string) (*Verification, error) {
	if v, found := p.cache.Get(token); found {
		return &v, nil
	}
	v, err := p.next.VerifyIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	if v.OK {
		p.cache.Add(token, *v)
	}
	return v, nil
}

func (p *CachedProvider) GetClient(ctx context.Context, clientID string) (*models.ClientDescriptor, error) {
	return p.next.GetClient(ctx, clientID)
}

func (p *CachedProvider) SetClientState(ctx context.Context, clientID, state string) error {
	return p.next.SetClientState(ctx, clientID, state)
}
