package connection

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
)

// HeartbeatMonitor probes one connection. Each tick flips the record's alive
// flag to false and pings; the pong flips it back and stamps lastHeartbeat.
// A missed tick only marks the record silent, closing is left to higher
// layers.
type HeartbeatMonitor struct {
	interval time.Duration
	clock    clockwork.Clock
	stop     chan struct{}
	stopOnce sync.Once
}

func NewHeartbeatMonitor(interval time.Duration, clock clockwork.Clock) *HeartbeatMonitor {
	return &HeartbeatMonitor{interval: interval, clock: clock, stop: make(chan struct{})}
}

// Stop halts the monitor. Safe to call more than once.
func (m *HeartbeatMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Run drives the probe loop until Stop or the session closes. The admission
// path starts it on its own goroutine.
func (m *HeartbeatMonitor) Run(svc *Service, session *Session) {
	log := logrus.WithField("prefix", "HeartbeatMonitor.Run")
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-session.Closer:
			return
		case <-ticker.Chan():
			m.tick(svc, session, log)
		}
	}
}

func (m *HeartbeatMonitor) tick(svc *Service, session *Session, log *logrus.Entry) {
	missed := false
	session.WithRecord(func(rec *models.ConnectionRecord) {
		if !rec.Alive {
			missed = true
		}
		rec.Alive = false
	})
	if missed {
		rec := session.Record()
		log.Warnf("connection %v missed a heartbeat", session.ID)
		missedHeartbeatsMetric.Inc()
		svc.audit.HeartbeatMissed(rec.ID, rec.ClientID)
		if err := svc.registry.Upsert(context.Background(), &rec); err != nil {
			log.Errorf("failed to persist missed heartbeat for %v: %v", session.ID, err)
		}
	}
	if err := session.Ping(); err != nil {
		log.Debugf("ping to %v failed: %v", session.ID, err)
	}
}

// handlePong runs on the session's read loop whenever the client answers a
// ping. The record stays connected across misses, the pong just revives it.
func (svc *Service) handlePong(session *Session) {
	session.WithRecord(func(rec *models.ConnectionRecord) {
		now := models.NewISOTime(svc.clock.Now())
		rec.LastHeartbeat = &now
		rec.Alive = true
	})
	rec := session.Record()
	if err := svc.registry.Upsert(context.Background(), &rec); err != nil {
		logrus.WithField("prefix", "Service.handlePong").
			Errorf("failed to persist heartbeat for %v: %v", session.ID, err)
	}
}
