package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/storage"
)

// newBareService builds a service without the HTTP surface for tests that
// drive internals directly.
func newBareService(store *storage.MemStore) *Service {
	return &Service{
		registry:   NewRegistry(store),
		store:      store,
		bus:        NewEventBus(),
		dispatcher: NewDispatcher(),
		clock:      clockwork.NewFakeClockAt(time.Now()),
		serverID:   "srvA",
	}
}

// newSocketPair upgrades one websocket over a throwaway listener and returns
// both ends.
func newSocketPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the socket pair never arrived")
	}
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestHeartbeatTickMarksRecordSilent(t *testing.T) {
	store := storage.NewMemStore()
	svc := newBareService(store)
	serverConn, _ := newSocketPair(t)
	ctx := context.Background()

	rec := &models.ConnectionRecord{ID: "c1", ClientID: "cliX", ServerID: "srvA", ReportURL: "r", Alive: true, Open: true}
	seed := *rec
	if err := store.PutConnection(ctx, &seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	session := NewSession(serverConn, rec)

	m := NewHeartbeatMonitor(time.Second, svc.clock)
	log := logrus.WithField("prefix", "test")

	// the first silent interval only clears the flag locally
	m.tick(svc, session, log)
	if session.Record().Alive {
		t.Error("tick left the session marked alive")
	}
	stored, err := store.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if !stored.Alive {
		t.Error("first tick already persisted the miss")
	}

	// a second silent interval is a miss and is persisted
	m.tick(svc, session, log)
	stored, err = store.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if stored.Alive {
		t.Error("missed heartbeat was not persisted")
	}
	if !stored.Open {
		t.Error("missed heartbeat closed the record")
	}
}

func TestHandlePongRevivesRecord(t *testing.T) {
	store := storage.NewMemStore()
	svc := newBareService(store)
	serverConn, _ := newSocketPair(t)
	ctx := context.Background()

	rec := &models.ConnectionRecord{ID: "c1", ClientID: "cliX", ServerID: "srvA", ReportURL: "r", Alive: false, Open: true}
	session := NewSession(serverConn, rec)

	svc.handlePong(session)

	snap := session.Record()
	if !snap.Alive {
		t.Error("pong did not revive the session")
	}
	if snap.LastHeartbeat == nil {
		t.Fatal("pong did not stamp lastHeartbeat")
	}
	if !snap.LastHeartbeat.Equal(svc.clock.Now()) {
		t.Errorf("lastHeartbeat = %v, want the clock instant %v", snap.LastHeartbeat, svc.clock.Now())
	}

	stored, err := store.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("pong did not persist the record: %v", err)
	}
	if !stored.Alive || stored.LastHeartbeat == nil {
		t.Errorf("persisted record alive=%v lastHeartbeat=%v", stored.Alive, stored.LastHeartbeat)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	store := storage.NewMemStore()
	svc := newBareService(store)
	serverConn, clientConn := newSocketPair(t)

	rec := &models.ConnectionRecord{ID: "c1", ClientID: "cliX", ServerID: "srvA", ReportURL: "r", Alive: true, Open: true}
	session := NewSession(serverConn, rec)
	session.SetPongHandler(func() { svc.handlePong(session) })

	// both sides must sit in a read for control frames to flow
	go func() {
		for {
			if _, _, err := clientConn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		for {
			if _, _, err := serverConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	m := NewHeartbeatMonitor(time.Second, svc.clock)
	m.tick(svc, session, logrus.WithField("prefix", "test"))

	waitFor(t, func() bool { return session.Record().Alive }, "pong never revived the session")
}

func TestHeartbeatMonitorStops(t *testing.T) {
	store := storage.NewMemStore()
	svc := newBareService(store)
	serverConn, _ := newSocketPair(t)
	session := NewSession(serverConn, &models.ConnectionRecord{ID: "c1", ReportURL: "r", Alive: true, Open: true})

	m := NewHeartbeatMonitor(time.Second, svc.clock)
	done := make(chan struct{})
	go func() {
		m.Run(svc, session)
		close(done)
	}()

	m.Stop()
	m.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestHeartbeatMonitorEndsWithSession(t *testing.T) {
	store := storage.NewMemStore()
	svc := newBareService(store)
	serverConn, _ := newSocketPair(t)
	session := NewSession(serverConn, &models.ConnectionRecord{ID: "c1", ReportURL: "r", Alive: true, Open: true})

	m := NewHeartbeatMonitor(time.Second, svc.clock)
	done := make(chan struct{})
	go func() {
		m.Run(svc, session)
		close(done)
	}()

	session.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor outlived its session")
	}
}
