package config

import (
	"log"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
)

var Config = struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Port        int    `env:"PORT" envDefault:"8081"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9103"`
	Storage     string `env:"STORAGE" envDefault:"memory"` // memory, postgres or redis

	// PostgreSQL related settings
	PostgresURI                   string `env:"POSTGRES_URI"`
	PostgresMaxConns              int32  `env:"POSTGRES_MAX_CONNS" envDefault:"25"`
	PostgresMinConns              int32  `env:"POSTGRES_MIN_CONNS" envDefault:"0"`
	PostgresMaxConnLifetime       string `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"1h"`
	PostgresMaxConnLifetimeJitter string `env:"POSTGRES_MAX_CONN_LIFETIME_JITTER" envDefault:"10m"`
	PostgresMaxConnIdleTime       string `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	PostgresHealthCheckPeriod     string `env:"POSTGRES_HEALTH_CHECK_PERIOD" envDefault:"1m"`
	PostgresLazyConnect           bool   `env:"POSTGRES_LAZY_CONNECT" envDefault:"false"`

	// Redis related settings
	RedisURI string `env:"REDIS_URI"`

	// Connection provider settings
	ServerID            string `env:"SERVER_ID"`
	ProviderRoute       string `env:"PROVIDER_ROUTE" envDefault:"/providers/connection"`
	ExternalURL         string `env:"EXTERNAL_URL" envDefault:"http://localhost:8081"`
	TokenSigningKey     string `env:"TOKEN_SIGNING_KEY"`
	TokenTTL            int    `env:"TOKEN_TTL" envDefault:"60"`
	HeartbeatInterval   int    `env:"HEARTBEAT_INTERVAL" envDefault:"30"`
	IdentityProvider    string `env:"IDENTITY_PROVIDER" envDefault:"static"` // static or http
	IdentityFile        string `env:"IDENTITY_FILE" envDefault:"clients.json"`
	IdentityURL         string `env:"IDENTITY_URL"`
	IdentityCacheSize   int    `env:"IDENTITY_CACHE_SIZE" envDefault:"10000"`
	IdentityCacheTTL    int    `env:"IDENTITY_CACHE_TTL" envDefault:"60"`
	AuditURL            string `env:"AUDIT_URL"`
	AuditFlushInterval  int    `env:"AUDIT_FLUSH_INTERVAL" envDefault:"10"`
	AuditBufferSize     int    `env:"AUDIT_BUFFER_SIZE" envDefault:"4096"`

	// Other settings
	CorsEnable         bool     `env:"CORS_ENABLE"`
	PprofEnabled       bool     `env:"PPROF_ENABLED" envDefault:"false"`
	RPSLimit           int      `env:"RPS_LIMIT" envDefault:"5"`
	ConnectionsLimit   int      `env:"CONNECTIONS_LIMIT" envDefault:"50"`
	SelfSignedTLS      bool     `env:"SELF_SIGNED_TLS" envDefault:"false"`
	TrustedProxyRanges []string `env:"TRUSTED_PROXY_RANGES" envDefault:"0.0.0.0/0"`
	MaxBodySize        int64    `env:"MAX_BODY_SIZE" envDefault:"1048576"` // 1 MB
	Environment        string   `env:"ENVIRONMENT" envDefault:"production"`
}{}

func LoadConfig() {
	if err := env.Parse(&Config); err != nil {
		log.Fatalf("config parsing failed: %v\n", err)
	}

	level, err := logrus.ParseLevel(strings.ToLower(Config.LogLevel))
	if err != nil {
		log.Printf("Invalid LOG_LEVEL '%s', using default 'info'. Valid levels: panic, fatal, error, warn, info, debug, trace", Config.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
