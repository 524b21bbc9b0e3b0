package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/config"
	"github.com/morrigan-server/morrigan/internal/models"
)

// ErrNotFound is returned by singular lookups when no document matches.
var ErrNotFound = errors.New("not found")

// Store persists connection and token records. It may be shared by several
// server instances; serverId inside each record disambiguates ownership.
type Store interface {
	GetConnection(ctx context.Context, id string) (*models.ConnectionRecord, error)
	GetConnectionByClientID(ctx context.Context, clientID string) (*models.ConnectionRecord, error)
	ListConnections(ctx context.Context) ([]models.ConnectionRecord, error)
	PutConnection(ctx context.Context, rec *models.ConnectionRecord) error
	DeleteConnection(ctx context.Context, id string) error

	GetToken(ctx context.Context, id string) (*models.TokenRecord, error)
	PutToken(ctx context.Context, tok *models.TokenRecord) error
	DeleteToken(ctx context.Context, id string) error

	HealthCheck() error
}

// NewStore builds the backend selected by STORAGE. Postgres and redis
// bring-up is retried with a fibonacci backoff so the server survives a store
// that is still starting.
func NewStore(ctx context.Context) (Store, error) {
	log := logrus.WithField("prefix", "NewStore")

	switch config.Config.Storage {
	case "postgres":
		var s *PgStore
		backoff := retry.WithMaxRetries(5, retry.NewFibonacci(time.Second))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var err error
			s, err = NewPgStore(ctx, config.Config.PostgresURI)
			if err != nil {
				log.Warnf("postgres not ready: %v", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		return s, nil
	case "redis":
		var s *RedisStore
		backoff := retry.WithMaxRetries(5, retry.NewFibonacci(time.Second))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var err error
			s, err = NewRedisStore(ctx, config.Config.RedisURI)
			if err != nil {
				log.Warnf("redis not ready: %v", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return s, nil
	case "memory", "":
		log.Info("using in-memory store")
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown STORAGE %q, expected memory, postgres or redis", config.Config.Storage)
	}
}
