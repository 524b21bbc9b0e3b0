package connection

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/config"
	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/storage"
	"github.com/morrigan-server/morrigan/internal/utils"
	"github.com/morrigan-server/morrigan/internal/wire"
)

// TokenRequestHandler exchanges a client identity token for a short-lived
// connection token. The record it pre-creates is the one the websocket
// upgrade later promotes; a client holding a live record is refused a second
// one.
func (svc *Service) TokenRequestHandler(c echo.Context) error {
	ctx := c.Request().Context()
	log := logrus.WithField("prefix", "TokenRequestHandler")
	remote := svc.realIP.Extract(c.Request())

	paramsStore, err := NewParamsStorage(c, config.Config.MaxBodySize)
	if err != nil {
		badRequestMetric.Inc()
		log.Error(err)
		return c.JSON(utils.StateResError("requestError", err.Error(), http.StatusBadRequest))
	}
	traceIDParam, ok := paramsStore.Get("traceId")
	traceID := ParseOrGenerateTraceID(traceIDParam, ok)

	idToken := c.Request().Header.Get("Authorization")
	if idToken == "" {
		badRequestMetric.Inc()
		log.Warnf("token request from %v without identity token", remote)
		return c.JSON(utils.StateResError("requestError", "No token provided.", http.StatusBadRequest))
	}

	verification, err := svc.identity.VerifyIdentity(ctx, idToken)
	if err != nil {
		log.Errorf("identity verification failed: %v", err)
		return c.JSON(utils.StateResError("providerError", "Identity verification unavailable.", http.StatusInternalServerError))
	}
	if !verification.OK {
		log.Warnf("identity rejected for %v: %v", remote, verification.Reason)
		log.Debugf("rejected identity token: %v", idToken)
		svc.audit.TokenRejected("", traceID, verification.Reason)
		return c.JSON(http.StatusForbidden, utils.StateRes{State: verification.State, Reason: verification.Reason})
	}

	cid := verification.ClientID
	existing, err := svc.registry.FindByClientID(ctx, cid)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Errorf("record lookup for client %v failed: %v", cid, err)
		return c.JSON(utils.StateResError("providerError", "Store unavailable.", http.StatusInternalServerError))
	}
	if existing != nil {
		if existing.IsLive(svc.clock.Now()) {
			badRequestMetric.Inc()
			reason := fmt.Sprintf("client '%v' already has an open connection ('%v')", cid, existing.ID)
			log.Warn(reason)
			svc.audit.TokenRejected(cid, traceID, reason)
			return c.JSON(utils.StateResError("requestError", reason, http.StatusBadRequest))
		}
		// Abandoned issuance or closed leftover: drop it and its token.
		svc.Cleanup(ctx, existing.ID)
		if err := svc.registry.DeleteByID(ctx, existing.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Errorf("failed to delete stale record %v: %v", existing.ID, err)
			return c.JSON(utils.StateResError("providerError", "Store unavailable.", http.StatusInternalServerError))
		}
		log.Infof("replaced stale record %v of client %v", existing.ID, cid)
	}

	id := uuid.New().String()
	issued, err := svc.broker.Issue(ctx, id, map[string]any{"reportUrl": svc.connectURL})
	if err != nil {
		log.Errorf("token issuance for client %v failed: %v", cid, err)
		return c.JSON(utils.StateResError("providerError", "Token issuance failed.", http.StatusInternalServerError))
	}

	timeout := models.NewISOTime(issued.Expires)
	rec := models.ConnectionRecord{
		ID:            id,
		ClientID:      cid,
		TokenID:       issued.TokenID,
		ClientAddress: remote,
		ReportURL:     svc.connectURL,
		Timeout:       &timeout,
		Alive:         false,
		Open:          true,
	}
	if err := svc.registry.Upsert(ctx, &rec); err != nil {
		log.Errorf("failed to store record %v: %v", id, err)
		return c.JSON(utils.StateResError("providerError", "Store unavailable.", http.StatusInternalServerError))
	}

	issuedTokensMetric.Inc()
	svc.audit.TokenIssued(id, cid, traceID)
	log.Infof("issued connection %v to client %v", id, cid)
	return c.JSON(http.StatusOK, utils.StateRes{State: "success", Token: issued.Token})
}

// ConnectHandler upgrades the websocket and promotes the record named by the
// connection token in the Origin header. A bad token closes the socket
// without a reply and mutates nothing.
func (svc *Service) ConnectHandler(c echo.Context) error {
	ctx := c.Request().Context()
	log := logrus.WithField("prefix", "ConnectHandler")
	remote := svc.realIP.Extract(c.Request())
	origin := c.Request().Header.Get("Origin")

	conn, err := svc.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		badRequestMetric.Inc()
		log.Warnf("upgrade from %v failed: %v", remote, err)
		return nil
	}

	verified, err := svc.broker.Verify(ctx, origin)
	if err != nil {
		rejectedUpgradesMetric.Inc()
		log.Errorf("connection token verification errored for %v: %v", remote, err)
		_ = conn.Close()
		return nil
	}
	if !verified.OK {
		rejectedUpgradesMetric.Inc()
		log.Warnf("connection token rejected for %v: %v", remote, verified.Reason)
		log.Debugf("rejected connection token: %v", origin)
		svc.audit.TokenRejected("", "", verified.Reason)
		_ = conn.Close()
		return nil
	}

	rec, err := svc.registry.FindByID(ctx, verified.Subject)
	if err != nil {
		rejectedUpgradesMetric.Inc()
		log.Warnf("no record %v behind token from %v: %v", verified.Subject, remote, err)
		_ = conn.Close()
		return nil
	}

	rec.Alive = true
	rec.Connected = models.ConnectedAt{ISOTime: models.NewISOTime(svc.clock.Now())}
	rec.ServerID = svc.serverID
	rec.ClientAddress = remote
	rec.Timeout = nil
	if err := svc.registry.Upsert(ctx, rec); err != nil {
		log.Errorf("failed to persist promoted record %v: %v", rec.ID, err)
		_ = conn.Close()
		return nil
	}

	session := NewSession(conn, rec)
	svc.registry.RegisterSession(rec.ID, session)
	activeConnectionsMetric.Inc()

	svc.bus.Emit(EventAuthenticate, rec, session)

	monitor := NewHeartbeatMonitor(svc.heartbeatInterval, svc.clock)
	svc.registry.RegisterMonitor(rec.ID, monitor)
	utils.RunWithRecovery(func() { monitor.Run(svc, session) })

	session.SetPongHandler(func() { svc.handlePong(session) })

	if err := session.SendJSON(wire.StateFrame{Type: wire.ConnectionStateType, State: wire.StateAccepted}); err != nil {
		log.Errorf("failed to send promotion frame to %v: %v", rec.ID, err)
	}

	svc.bus.Emit(EventConnect, rec, session)

	svc.audit.Connected(rec.ID, rec.ClientID)
	log.Infof("connection %v promoted for client %v at %v", rec.ID, rec.ClientID, remote)

	utils.RunWithRecovery(func() { svc.readLoop(session) })
	return nil
}
