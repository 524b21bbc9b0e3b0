package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/config"
	"github.com/morrigan-server/morrigan/internal/models"
)

// PgStore keeps records as JSONB documents in the morrigan schema, one table
// per collection.
type PgStore struct {
	postgres *pgxpool.Pool
}

//go:embed migrations/*.sql
var fs embed.FS

func MigrateDb(postgresURI string) error {
	log := logrus.WithField("prefix", "MigrateDb")
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		log.Info("iofs err: ", err)
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, postgresURI)
	if err != nil {
		log.Info("source instance err: ", err)
		return err
	}
	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("DB is up to date")
		return nil
	} else if err != nil {
		return err
	}
	log.Info("DB updated successfully")
	return nil
}

// configurePoolSettings creates a new pgxpool.Config with settings from environment variables
// See https://pkg.go.dev/github.com/jackc/pgx/v4/pgxpool#ParseConfig
func configurePoolSettings(postgresURI string) (*pgxpool.Config, error) {
	log := logrus.WithField("prefix", "configurePoolSettings")

	poolConfig, err := pgxpool.ParseConfig(postgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres URI: %w", err)
	}

	poolConfig.MaxConns = config.Config.PostgresMaxConns
	poolConfig.MinConns = config.Config.PostgresMinConns

	if maxLifetime, err := time.ParseDuration(config.Config.PostgresMaxConnLifetime); err == nil {
		poolConfig.MaxConnLifetime = maxLifetime
	} else {
		log.Warnf("Invalid PostgresMaxConnLifetime '%s', using default", config.Config.PostgresMaxConnLifetime)
	}

	if maxLifetimeJitter, err := time.ParseDuration(config.Config.PostgresMaxConnLifetimeJitter); err == nil {
		poolConfig.MaxConnLifetimeJitter = maxLifetimeJitter
	} else {
		log.Warnf("Invalid PostgresMaxConnLifetimeJitter '%s', using default", config.Config.PostgresMaxConnLifetimeJitter)
	}

	if maxIdleTime, err := time.ParseDuration(config.Config.PostgresMaxConnIdleTime); err == nil {
		poolConfig.MaxConnIdleTime = maxIdleTime
	} else {
		log.Warnf("Invalid PostgresMaxConnIdleTime '%s', using default", config.Config.PostgresMaxConnIdleTime)
	}

	if healthCheckPeriod, err := time.ParseDuration(config.Config.PostgresHealthCheckPeriod); err == nil {
		poolConfig.HealthCheckPeriod = healthCheckPeriod
	} else {
		log.Warnf("Invalid PostgresHealthCheckPeriod '%s', using default", config.Config.PostgresHealthCheckPeriod)
	}

	poolConfig.LazyConnect = config.Config.PostgresLazyConnect

	return poolConfig, nil
}

func NewPgStore(ctx context.Context, postgresURI string) (*PgStore, error) {
	log := logrus.WithField("prefix", "NewPgStore")
	connectCtx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	poolConfig, err := configurePoolSettings(postgresURI)
	if err != nil {
		return nil, err
	}

	c, err := pgxpool.ConnectConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, err
	}

	err = MigrateDb(postgresURI)
	if err != nil {
		log.Info("migrate err: ", err)
		return nil, err
	}
	s := PgStore{postgres: c}
	go s.worker()
	return &s, nil
}

// worker periodically purges expired token records and refreshes the size
// gauges.
func (s *PgStore) worker() {
	log := logrus.WithField("prefix", "PgStore.worker")
	for {
		<-time.NewTimer(time.Minute).C

		tag, err := s.postgres.Exec(context.TODO(),
			`DELETE FROM morrigan."connections.tokens" WHERE expires_at < $1`,
			time.Now().Add(-tokenPurgeGrace))
		if err != nil {
			log.Infof("purge expired tokens error: %v", err)
		} else if tag.RowsAffected() > 0 {
			purgedTokensMetric.Add(float64(tag.RowsAffected()))
			log.Debugf("purged %d expired token records", tag.RowsAffected())
		}

		var connections, tokens int64
		if err := s.postgres.QueryRow(context.TODO(),
			`SELECT count(*) FROM morrigan.connections`).Scan(&connections); err == nil {
			storedConnectionsMetric.Set(float64(connections))
		}
		if err := s.postgres.QueryRow(context.TODO(),
			`SELECT count(*) FROM morrigan."connections.tokens"`).Scan(&tokens); err == nil {
			storedTokensMetric.Set(float64(tokens))
		}
	}
}

func (s *PgStore) GetConnection(ctx context.Context, id string) (*models.ConnectionRecord, error) {
	return scanRecord(s.postgres.QueryRow(ctx,
		`SELECT record FROM morrigan.connections WHERE connection_id = $1`, id))
}

func (s *PgStore) GetConnectionByClientID(ctx context.Context, clientID string) (*models.ConnectionRecord, error) {
	return scanRecord(s.postgres.QueryRow(ctx,
		`SELECT record FROM morrigan.connections WHERE client_id = $1
		 ORDER BY updated_at DESC LIMIT 1`, clientID))
}

func scanRecord(row pgx.Row) (*models.ConnectionRecord, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PgStore) ListConnections(ctx context.Context) ([]models.ConnectionRecord, error) {
	log := logrus.WithField("prefix", "PgStore.ListConnections")
	rows, err := s.postgres.Query(ctx,
		`SELECT record FROM morrigan.connections ORDER BY created_at`)
	if err != nil {
		log.Info(err)
		return nil, err
	}
	defer rows.Close()

	results := make([]models.ConnectionRecord, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			log.Info(err)
			return nil, err
		}
		var rec models.ConnectionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Warnf("skipping corrupt record: %v", err)
			continue
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (s *PgStore) PutConnection(ctx context.Context, rec *models.ConnectionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.postgres.Exec(ctx, `
		INSERT INTO morrigan.connections (connection_id, client_id, record)
		VALUES ($1, $2, $3)
		ON CONFLICT (connection_id)
		DO UPDATE SET client_id = $2, record = $3, updated_at = now()
	`, rec.ID, rec.ClientID, data)
	return err
}

func (s *PgStore) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.postgres.Exec(ctx,
		`DELETE FROM morrigan.connections WHERE connection_id = $1`, id)
	return err
}

func (s *PgStore) GetToken(ctx context.Context, id string) (*models.TokenRecord, error) {
	var data []byte
	err := s.postgres.QueryRow(ctx,
		`SELECT record FROM morrigan."connections.tokens" WHERE token_id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PgStore) PutToken(ctx context.Context, tok *models.TokenRecord) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	_, err = s.postgres.Exec(ctx, `
		INSERT INTO morrigan."connections.tokens" (token_id, subject, expires_at, record)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_id)
		DO UPDATE SET subject = $2, expires_at = $3, record = $4
	`, tok.ID, tok.Subject, tok.Expires.Time, data)
	return err
}

func (s *PgStore) DeleteToken(ctx context.Context, id string) error {
	_, err := s.postgres.Exec(ctx,
		`DELETE FROM morrigan."connections.tokens" WHERE token_id = $1`, id)
	return err
}

func (s *PgStore) HealthCheck() error {
	log := logrus.WithField("prefix", "PgStore.HealthCheck")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	var result int
	err := s.postgres.QueryRow(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		log.Errorf("database health check failed: %v", err)
		return err
	}

	return nil
}
