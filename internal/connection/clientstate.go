package connection

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/wire"
)

func (svc *Service) registerBuiltinHandlers() {
	svc.dispatcher.Register("client", "state", handleClientState)
}

// handleClientState reacts to the client's own state announcements: accepted
// is answered with ready, rejected stops the session, and stopped.<reason> is
// forwarded to the identity provider so cleanup keeps the client's stop
// reason instead of resetting it.
func handleClientState(env *wire.Envelope, session *Session, record *models.ConnectionRecord, svc *Service) error {
	log := logrus.WithField("prefix", "handleClientState")
	state, ok := env.String("state")
	if !ok {
		return fmt.Errorf("client.state frame on %v carries no state", record.ID)
	}

	switch {
	case state == wire.StateAccepted:
		return session.SendJSON(wire.StateFrame{Type: wire.ClientStateType, State: wire.StateReady})
	case state == wire.StateRejected:
		log.Warnf("client %v rejected connection %v", record.ClientID, record.ID)
		session.Close()
		return nil
	case strings.HasPrefix(state, wire.StateStopped):
		log.Infof("client %v reported %q on connection %v", record.ClientID, state, record.ID)
		if err := svc.identity.SetClientState(context.Background(), record.ClientID, state); err != nil {
			return fmt.Errorf("failed to record client state %q: %w", state, err)
		}
		return nil
	default:
		log.Debugf("ignoring client state %q on connection %v", state, record.ID)
		return nil
	}
}
