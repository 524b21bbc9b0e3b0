package connection

import (
	"context"
	"errors"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/identity"
	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/storage"
)

// Cleanup releases everything a connection holds: the local socket and
// heartbeat handles, the record's open and alive flags, and the token record
// backing its tokenId. It is idempotent and tolerates a record that is
// already gone. The final record state is returned, nil when none exists.
func (svc *Service) Cleanup(ctx context.Context, connectionID string) *models.ConnectionRecord {
	log := logrus.WithField("prefix", "Service.Cleanup")

	session := svc.registry.UnregisterSession(connectionID)
	closedByServer := false
	if session != nil {
		if session.IsOpen() {
			closedByServer = true
			session.Close()
		}
		activeConnectionsMetric.Dec()
	}

	if monitor := svc.registry.UnregisterMonitor(connectionID); monitor != nil {
		monitor.Stop()
	}

	rec, err := svc.registry.FindByID(ctx, connectionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		log.Errorf("cleanup of %v could not load the record: %v", connectionID, err)
		return nil
	}

	rec.Alive = false
	rec.Open = false
	if closedByServer {
		now := models.NewISOTime(svc.clock.Now())
		rec.Disconnected = &now
	}
	if rec.TokenID != "" {
		if err := svc.store.DeleteToken(ctx, rec.TokenID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Errorf("cleanup of %v could not delete token %v: %v", connectionID, rec.TokenID, err)
		}
		rec.TokenID = ""
	}
	if err := svc.registry.Upsert(ctx, rec); err != nil {
		log.Errorf("cleanup of %v could not persist the record: %v", connectionID, err)
	}
	return rec
}

// readLoop pumps inbound frames into the dispatcher until the socket dies,
// then runs the disconnect path exactly once for this socket.
func (svc *Service) readLoop(session *Session) {
	log := logrus.WithField("prefix", "Service.readLoop")
	for {
		_, frame, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("connection %v read failed: %v", session.ID, err)
			}
			break
		}
		svc.dispatcher.Dispatch(frame, session, svc)
	}
	svc.handleSocketClose(session)
}

// handleSocketClose follows a dead socket with cleanup, the disconnect
// fan-out, and the advisory reset of the client's state. A client that
// announced its own stop keeps that state.
func (svc *Service) handleSocketClose(session *Session) {
	log := logrus.WithField("prefix", "Service.handleSocketClose")
	ctx := context.Background()

	final := svc.Cleanup(ctx, session.ID)
	if final == nil {
		snapshot := session.Record()
		final = &snapshot
	}

	svc.bus.Emit(EventDisconnect, final, session)
	svc.audit.Disconnected(final.ID, final.ClientID)
	log.Infof("connection %v of client %v closed", final.ID, final.ClientID)

	client, err := svc.identity.GetClient(ctx, final.ClientID)
	if errors.Is(err, identity.ErrClientNotFound) {
		return
	}
	if err != nil {
		log.Errorf("client lookup for %v failed: %v", final.ClientID, err)
		return
	}
	if strings.HasPrefix(client.State, "stopped") {
		return
	}
	if err := svc.identity.SetClientState(ctx, final.ClientID, "unknown"); err != nil {
		log.Errorf("failed to reset state of client %v: %v", final.ClientID, err)
	}
}
