package connection

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
)

const writeTimeout = 10 * time.Second

// Session is the live server side of one websocket connection. It owns the
// socket handle and the in-memory working copy of the connection record;
// record access goes through WithRecord so the heartbeat goroutine and the
// read loop never interleave mutations.
type Session struct {
	ID string

	conn      *websocket.Conn
	record    *models.ConnectionRecord
	recordMux sync.Mutex
	writeMux  sync.Mutex
	closeOnce sync.Once
	Closer    chan struct{}
}

func NewSession(conn *websocket.Conn, record *models.ConnectionRecord) *Session {
	return &Session{
		ID:     record.ID,
		conn:   conn,
		record: record,
		Closer: make(chan struct{}),
	}
}

// WithRecord runs fn with exclusive access to the session's record copy.
func (s *Session) WithRecord(fn func(rec *models.ConnectionRecord)) {
	s.recordMux.Lock()
	defer s.recordMux.Unlock()
	fn(s.record)
}

// Record returns a snapshot of the session's record copy.
func (s *Session) Record() models.ConnectionRecord {
	s.recordMux.Lock()
	defer s.recordMux.Unlock()
	return *s.record
}

// SendText writes one text frame. Safe for concurrent use.
func (s *Session) SendText(payload []byte) error {
	s.writeMux.Lock()
	defer s.writeMux.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// SendJSON marshals v and writes it as one text frame.
func (s *Session) SendJSON(v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return s.SendText(payload)
}

// Ping sends a websocket ping control frame.
func (s *Session) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// SetPongHandler installs fn as the socket's pong callback. The callback runs
// on the session's read loop goroutine.
func (s *Session) SetPongHandler(fn func()) {
	s.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

// IsOpen reports whether the server has not yet closed the session.
func (s *Session) IsOpen() bool {
	select {
	case <-s.Closer:
		return false
	default:
		return true
	}
}

// Close sends a close frame and tears the socket down. Repeated calls are
// no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.Closer)
		deadline := time.Now().Add(writeTimeout)
		err := s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err != nil && err != websocket.ErrCloseSent {
			log.WithField("prefix", "Session.Close").Debugf("close frame not sent: %v", err)
		}
		_ = s.conn.Close()
	})
}

// RemoteAddr returns the socket's peer address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
