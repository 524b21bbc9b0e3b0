// Package connection implements the connection provider: two-phase admission
// of client sessions, liveness tracking over ping/pong, dispatch of typed
// inbound messages to provider handlers, and the lifecycle event bus.
package connection

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/audit"
	"github.com/morrigan-server/morrigan/internal/config"
	"github.com/morrigan-server/morrigan/internal/identity"
	"github.com/morrigan-server/morrigan/internal/storage"
	"github.com/morrigan-server/morrigan/internal/token"
	"github.com/morrigan-server/morrigan/internal/utils"
)

// Service owns every moving part of the provider for one server instance.
// Handlers receive it explicitly; there is no package-level state.
type Service struct {
	registry   *Registry
	store      storage.Store
	broker     *token.Broker
	identity   identity.Provider
	bus        *EventBus
	dispatcher *Dispatcher
	audit      *audit.Recorder
	realIP     *utils.RealIPExtractor
	clock      clockwork.Clock

	serverID          string
	connectURL        string
	heartbeatInterval time.Duration
	upgrader          websocket.Upgrader
}

// NewService assembles the provider from its collaborators. Server id, route
// and heartbeat cadence come from the loaded configuration; an unset
// SERVER_ID gets a generated one.
func NewService(store storage.Store, broker *token.Broker, provider identity.Provider, recorder *audit.Recorder, extractor *utils.RealIPExtractor, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	serverID := config.Config.ServerID
	if serverID == "" {
		serverID = uuid.New().String()
		logrus.WithField("prefix", "NewService").Infof("no SERVER_ID configured, using %v", serverID)
	}

	svc := &Service{
		registry:          NewRegistry(store),
		store:             store,
		broker:            broker,
		identity:          provider,
		bus:               NewEventBus(),
		dispatcher:        NewDispatcher(),
		audit:             recorder,
		realIP:            extractor,
		clock:             clock,
		serverID:          serverID,
		connectURL:        strings.TrimSuffix(config.Config.ExternalURL, "/") + config.Config.ProviderRoute + "/connect",
		heartbeatInterval: time.Duration(config.Config.HeartbeatInterval) * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The Origin header carries the connection token, so the
			// default same-origin check must not run.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	svc.registerBuiltinHandlers()
	return svc
}

// Bus returns the lifecycle event bus for subscriber registration.
func (svc *Service) Bus() *EventBus { return svc.bus }

// Dispatcher returns the inbound message dispatcher so protocol providers
// can register their handlers.
func (svc *Service) Dispatcher() *Dispatcher { return svc.dispatcher }

// ServerID returns this instance's id.
func (svc *Service) ServerID() string { return svc.serverID }

// Shutdown closes every live session and cleans its record up, in a stable
// order. It returns once no local connections remain.
func (svc *Service) Shutdown(ctx context.Context) {
	log := logrus.WithField("prefix", "Service.Shutdown")
	ids := svc.registry.LocalIDs()
	if len(ids) > 0 {
		log.Infof("closing %v live connections", len(ids))
	}
	for _, id := range ids {
		svc.Cleanup(ctx, id)
	}
}
