package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/morrigan-server/morrigan/internal/models"
)

// staticClient is one entry of the clients file. TokenHash is a bcrypt hash
// of the client's identity secret.
type staticClient struct {
	models.ClientDescriptor
	TokenHash string `json:"tokenHash"`
}

type clientsFile struct {
	Clients []staticClient `json:"clients"`
}

// StaticProvider serves identities from a JSON file. Identity tokens have the
// form "<clientId>:<secret>"; the secret is checked against the stored bcrypt
// hash. State changes stay in memory, the file is config and never rewritten.
type StaticProvider struct {
	path    string
	mu      sync.RWMutex
	clients map[string]*staticClient
}

func NewStaticProvider(path string) (*StaticProvider, error) {
	p := &StaticProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the clients file. Runtime states set since the last load
// are carried over.
func (p *StaticProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read clients file: %w", err)
	}
	var file clientsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse clients file: %w", err)
	}

	clients := make(map[string]*staticClient, len(file.Clients))
	for i := range file.Clients {
		c := file.Clients[i]
		clients[c.ID] = &c
	}

	p.mu.Lock()
	for id, old := range p.clients {
		if c, ok := clients[id]; ok && old.State != "" {
			c.State = old.State
		}
	}
	p.clients = clients
	p.mu.Unlock()

	log.WithField("prefix", "StaticProvider.Reload").Infof("loaded %d clients from %s", len(clients), p.path)
	return nil
}

func (p *StaticProvider) VerifyIdentity(ctx context.Context, token string) (*Verification, error) {
	id, secret, ok := strings.Cut(token, ":")
	if !ok {
		return &Verification{State: "authError", Reason: "Malformed identity token."}, nil
	}

	p.mu.RLock()
	client, found := p.clients[id]
	p.mu.RUnlock()
	if !found {
		return &Verification{State: "authError", Reason: "Unknown client."}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.TokenHash), []byte(secret)); err != nil {
		return &Verification{State: "authError", Reason: "Invalid token."}, nil
	}
	return &Verification{OK: true, ClientID: id}, nil
}

func (p *StaticProvider) GetClient(ctx context.Context, clientID string) (*models.ClientDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	client, found := p.clients[clientID]
	if !found {
		return nil, ErrClientNotFound
	}
	descriptor := client.ClientDescriptor
	return &descriptor, nil
}

func (p *StaticProvider) SetClientState(ctx context.Context, clientID, state string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, found := p.clients[clientID]
	if !found {
		return ErrClientNotFound
	}
	client.State = state
	return nil
}
