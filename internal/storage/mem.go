package storage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
)

// MemStore keeps all records in process memory. Useful for tests and single
// instance deployments; state does not survive a restart.
type MemStore struct {
	connections map[string]models.ConnectionRecord
	byClient    map[string]string
	tokens      map[string]models.TokenRecord
	lock        sync.Mutex
}

func NewMemStore() *MemStore {
	s := MemStore{
		connections: map[string]models.ConnectionRecord{},
		byClient:    map[string]string{},
		tokens:      map[string]models.TokenRecord{},
	}
	go s.watcher()
	return &s
}

// watcher drops token records once they are past their expiry. Connection
// records are kept; closed ones document session history.
func (s *MemStore) watcher() {
	for {
		time.Sleep(time.Minute)
		purged := s.purgeExpiredTokens(time.Now())
		if purged > 0 {
			log.WithField("prefix", "MemStore.watcher").Debugf("purged %d expired token records", purged)
		}
		s.lock.Lock()
		storedConnectionsMetric.Set(float64(len(s.connections)))
		storedTokensMetric.Set(float64(len(s.tokens)))
		s.lock.Unlock()
	}
}

func (s *MemStore) purgeExpiredTokens(now time.Time) int {
	s.lock.Lock()
	defer s.lock.Unlock()

	purged := 0
	cutoff := now.Add(-tokenPurgeGrace)
	for id, tok := range s.tokens {
		if tok.Expires.Before(cutoff) {
			delete(s.tokens, id)
			purgedTokensMetric.Inc()
			purged++
		}
	}
	return purged
}

func (s *MemStore) GetConnection(ctx context.Context, id string) (*models.ConnectionRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec, ok := s.connections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemStore) GetConnectionByClientID(ctx context.Context, clientID string) (*models.ConnectionRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	id, ok := s.byClient[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := s.connections[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemStore) ListConnections(ctx context.Context) ([]models.ConnectionRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	results := make([]models.ConnectionRecord, 0, len(s.connections))
	for _, rec := range s.connections {
		results = append(results, rec)
	}
	return results, nil
}

func (s *MemStore) PutConnection(ctx context.Context, rec *models.ConnectionRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.connections[rec.ID] = *rec
	s.byClient[rec.ClientID] = rec.ID
	return nil
}

func (s *MemStore) DeleteConnection(ctx context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec, ok := s.connections[id]
	if !ok {
		return nil
	}
	delete(s.connections, id)
	if s.byClient[rec.ClientID] == id {
		delete(s.byClient, rec.ClientID)
	}
	return nil
}

func (s *MemStore) GetToken(ctx context.Context, id string) (*models.TokenRecord, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

func (s *MemStore) PutToken(ctx context.Context, tok *models.TokenRecord) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.tokens[tok.ID] = *tok
	return nil
}

func (s *MemStore) DeleteToken(ctx context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.tokens, id)
	return nil
}

func (s *MemStore) HealthCheck() error {
	return nil
}
