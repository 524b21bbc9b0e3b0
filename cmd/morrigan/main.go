package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"

	"github.com/morrigan-server/morrigan/internal"
	"github.com/morrigan-server/morrigan/internal/app"
	"github.com/morrigan-server/morrigan/internal/audit"
	"github.com/morrigan-server/morrigan/internal/config"
	"github.com/morrigan-server/morrigan/internal/connection"
	"github.com/morrigan-server/morrigan/internal/identity"
	morrigan_middleware "github.com/morrigan-server/morrigan/internal/middleware"
	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/storage"
	"github.com/morrigan-server/morrigan/internal/token"
	"github.com/morrigan-server/morrigan/internal/utils"
)

func main() {
	log.Info(fmt.Sprintf("Morrigan connection provider %s is running", internal.ServerVersionRevision))
	config.LoadConfig()
	app.InitMetrics()

	if config.Config.ServerID == "" {
		config.Config.ServerID = uuid.New().String()
		log.Infof("no SERVER_ID configured, using %v", config.Config.ServerID)
	}

	ctx := context.Background()
	store, err := storage.NewStore(ctx)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}

	signingKey := []byte(config.Config.TokenSigningKey)
	if len(signingKey) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("failed to generate a token signing key: %v", err)
		}
		signingKey = []byte(hex.EncodeToString(buf))
		log.Warn("no TOKEN_SIGNING_KEY configured, using an ephemeral key; issued tokens will not survive a restart")
	}
	broker := token.NewBroker(signingKey, time.Duration(config.Config.TokenTTL)*time.Second, store)

	provider, err := identity.NewProvider()
	if err != nil {
		log.Fatalf("failed to create identity provider: %v", err)
	}

	var recorder *audit.Recorder
	if config.Config.AuditURL != "" {
		ring := audit.NewRingCollector(config.Config.AuditBufferSize)
		drainer := audit.NewCollector(ring, audit.NewHTTPSender(config.Config.AuditURL),
			time.Duration(config.Config.AuditFlushInterval)*time.Second)
		go drainer.Run(ctx)
		recorder = audit.NewRecorder(config.Config.ServerID, ring)
		log.Infof("audit trail enabled, sink %v", config.Config.AuditURL)
	}

	extractor, err := utils.NewRealIPExtractor(config.Config.TrustedProxyRanges)
	if err != nil {
		log.Warnf("failed to create realIPExtractor: %v, using defaults", err)
		extractor, _ = utils.NewRealIPExtractor([]string{})
	}

	svc := connection.NewService(store, broker, provider, recorder, extractor, nil)

	healthManager := app.NewHealthManager()
	healthManager.UpdateHealthStatus(store)
	go healthManager.StartHealthMonitoring(ctx, store)

	mux := http.NewServeMux()
	mux.Handle("/health", http.HandlerFunc(healthManager.HealthHandler))
	mux.Handle("/ready", http.HandlerFunc(healthManager.HealthHandler))
	mux.Handle("/version", http.HandlerFunc(app.VersionHandler))
	mux.Handle("/metrics", promhttp.Handler())
	if config.Config.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
	}
	go func() {
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", config.Config.MetricsPort), mux))
	}()

	e := echo.New()
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		Skipper:           nil,
		DisableStackAll:   true,
		DisablePrintStack: false,
	}))
	e.Use(app.LogrusLoggerMiddleware())
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			if c.Request().Method != http.MethodPost || c.Path() != config.Config.ProviderRoute {
				return true
			}
			return false
		},
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(config.Config.RPSLimit)),
	}))
	e.Use(app.ConnectionsLimitMiddleware(morrigan_middleware.NewConnectionLimiter(config.Config.ConnectionsLimit, extractor), func(c echo.Context) bool {
		if c.Path() != config.Config.ProviderRoute+"/connect" {
			return true
		}
		return false
	}))

	if config.Config.CorsEnable {
		corsConfig := middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{echo.GET, echo.POST, echo.OPTIONS},
			AllowHeaders:     []string{"DNT", "X-CustomHeader", "Keep-Alive", "User-Agent", "X-Requested-With", "If-Modified-Since", "Cache-Control", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
		e.Use(corsConfig)
	}

	api := e.Group(config.Config.ProviderRoute)
	api.POST("", svc.TokenRequestHandler, app.RequireFunction(provider, models.CapabilityConnection))
	api.GET("/connect", svc.ConnectHandler)
	api.GET("", svc.ListConnectionsHandler, app.RequireFunction(provider, models.CapabilityAPI))
	api.GET("/:connectionId", svc.GetConnectionHandler, app.RequireFunction(provider, models.CapabilityAPI))
	api.POST("/:connectionId/send", svc.SendMessageHandler, app.RequireFunction(provider, models.CapabilityConnectionSend))

	var existedPaths []string
	for _, r := range e.Routes() {
		existedPaths = append(existedPaths, r.Path)
	}
	p := prometheus.NewPrometheus("http", func(c echo.Context) bool {
		return !slices.Contains(existedPaths, c.Path())
	})
	e.Use(p.HandlerFunc)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-stop
		log.Info("shutdown signal received, closing live connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Shutdown(shutdownCtx)
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Errorf("http shutdown failed: %v", err)
		}
	}()

	if config.Config.SelfSignedTLS {
		cert, key, err := utils.GenerateSelfSignedCertificate()
		if err != nil {
			log.Fatalf("failed to generate self signed certificate: %v", err)
		}
		if err := e.StartTLS(fmt.Sprintf(":%v", config.Config.Port), cert, key); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	} else {
		if err := e.Start(fmt.Sprintf(":%v", config.Config.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}
	log.Info("server stopped")
}
