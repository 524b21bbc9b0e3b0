package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
)

// RedisStore keeps records as JSON values under collection-prefixed keys.
// Token records carry a TTL so redis expires them on its own; the watcher the
// other backends need is not required here.
type RedisStore struct {
	client redis.UniversalClient
}

func connectionKey(id string) string {
	return models.ConnectionsCollection + ":" + id
}

func clientIndexKey(clientID string) string {
	return models.ConnectionsCollection + ".by-client:" + clientID
}

func tokenKey(id string) string {
	return models.TokensCollection + ":" + id
}

// indexKey is the set of all connection ids, maintained alongside the records.
const indexKey = models.ConnectionsCollection + ".index"

// NewRedisStore creates a new redis storage instance.
// Supports both single node and cluster modes based on URI format.
func NewRedisStore(ctx context.Context, redisURI string) (*RedisStore, error) {
	log := log.WithField("prefix", "NewRedisStore")

	uris := strings.Split(redisURI, ",")

	var client redis.UniversalClient
	isCluster := false

	// Determine cluster mode:
	// - If multiple URIs provided -> cluster
	// - If single URI but looks like AWS ElastiCache cluster endpoint (contains "clustercfg") -> cluster
	if len(uris) > 1 {
		isCluster = true
	} else if strings.Contains(strings.ToLower(redisURI), "clustercfg") {
		isCluster = true
	}

	if isCluster {
		var addrs []string
		var firstOpts *redis.Options
		if len(uris) > 1 {
			addrs = make([]string, len(uris))
			for i, uri := range uris {
				opts, err := redis.ParseURL(strings.TrimSpace(uri))
				if err != nil {
					return nil, fmt.Errorf("failed to parse URI %d: %w", i+1, err)
				}
				addrs[i] = opts.Addr
				if i == 0 {
					firstOpts = opts
				}
			}
		} else {
			raw := strings.TrimSpace(uris[0])
			opts, err := redis.ParseURL(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to parse URI: %w", err)
			}
			// For AWS clustercfg endpoints, seed with hostname only; go-redis will discover node addresses
			u, _ := url.Parse(raw)
			seed := opts.Addr
			if u != nil && strings.Contains(strings.ToLower(u.Host), "clustercfg") {
				seed = u.Host
			}
			addrs = []string{seed}
			firstOpts = opts
		}

		log.Infof("Using cluster mode with %d node seed(s)", len(addrs))

		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     addrs,
			Password:  firstOpts.Password,
			Username:  firstOpts.Username,
			TLSConfig: firstOpts.TLSConfig,
		})
	} else {
		opts, err := redis.ParseURL(strings.TrimSpace(uris[0]))
		if err != nil {
			return nil, fmt.Errorf("failed to parse URI: %w", err)
		}
		log.Info("Using single-node mode")
		client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	log.Info("Successfully connected to redis")
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) GetConnection(ctx context.Context, id string) (*models.ConnectionRecord, error) {
	data, err := s.client.Get(ctx, connectionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec models.ConnectionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt connection record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) GetConnectionByClientID(ctx context.Context, clientID string) (*models.ConnectionRecord, error) {
	id, err := s.client.Get(ctx, clientIndexKey(clientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetConnection(ctx, id)
}

func (s *RedisStore) ListConnections(ctx context.Context) ([]models.ConnectionRecord, error) {
	log := log.WithField("prefix", "RedisStore.ListConnections")

	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	results := make([]models.ConnectionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetConnection(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry outlived its record, drop it.
			s.client.SRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			log.Errorf("failed to load record %s: %v", id, err)
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, nil
}

func (s *RedisStore) PutConnection(ctx context.Context, rec *models.ConnectionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, connectionKey(rec.ID), data, 0)
	pipe.Set(ctx, clientIndexKey(rec.ClientID), rec.ID, 0)
	pipe.SAdd(ctx, indexKey, rec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DeleteConnection(ctx context.Context, id string) error {
	rec, err := s.GetConnection(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, connectionKey(id))
	pipe.SRem(ctx, indexKey, id)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return err
	}
	// Remove the client index only if it still points at this record.
	current, err := s.client.Get(ctx, clientIndexKey(rec.ClientID)).Result()
	if err == nil && current == id {
		s.client.Del(ctx, clientIndexKey(rec.ClientID))
	}
	return nil
}

func (s *RedisStore) GetToken(ctx context.Context, id string) (*models.TokenRecord, error) {
	data, err := s.client.Get(ctx, tokenKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var tok models.TokenRecord
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token record: %w", err)
	}
	return &tok, nil
}

func (s *RedisStore) PutToken(ctx context.Context, tok *models.TokenRecord) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	ttl := time.Until(tok.Expires.Time) + tokenPurgeGrace
	if ttl <= 0 {
		ttl = tokenPurgeGrace
	}
	return s.client.Set(ctx, tokenKey(tok.ID), data, ttl).Err()
}

func (s *RedisStore) DeleteToken(ctx context.Context, id string) error {
	return s.client.Del(ctx, tokenKey(id)).Err()
}

// HealthCheck verifies the connection to redis.
func (s *RedisStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}
