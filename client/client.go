// Package client implements the connector managed clients use to reach a
// connection provider. It exchanges the client's identity token for a
// connection token, dials the websocket endpoint embedded in that token, and
// fans inbound frames out to subscribers. Reconnection is the connector's
// job alone; the server never retries a lost session.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/utils"
	"github.com/morrigan-server/morrigan/internal/wire"
)

const (
	defaultReconnectInterval = 30 * time.Second
	handshakeTimeout         = 15 * time.Second
	writeTimeout             = 10 * time.Second
)

// Message is one validated inbound frame. Provider and Name are the halves
// of the type discriminator; Fields holds the decoded object and Raw the
// frame exactly as received.
type Message struct {
	Type     string
	Provider string
	Name     string
	Fields   map[string]any
	Raw      []byte
}

// Config carries the connector parameters. IdentityToken and ReportURL are
// required; everything else has a default.
type Config struct {
	IdentityToken string
	ReportURL     string

	// AlwaysReconnect keeps dialing after a lost socket until Disconnect is
	// called. A failed token request is terminal either way.
	AlwaysReconnect   bool
	ReconnectInterval time.Duration

	HTTPClient *http.Client
	Logger     *logrus.Entry
}

// Connector is the client side of one provider connection. All methods are
// safe for concurrent use.
type Connector struct {
	identityToken string
	reportURL     string
	httpClient    *http.Client
	dialer        *websocket.Dialer
	log           *logrus.Entry

	mu                sync.Mutex
	conn              *websocket.Conn
	open              bool
	dialing           bool
	alwaysReconnect   bool
	reconnectInterval time.Duration
	reconnectTimer    *time.Timer

	writeMux sync.Mutex

	onConnect    []func(conn *websocket.Conn)
	onMessage    []func(msg *Message)
	onDisconnect []func()
}

func New(cfg Config) (*Connector, error) {
	if cfg.IdentityToken == "" {
		return nil, errors.New("identity token is required")
	}
	if cfg.ReportURL == "" {
		return nil, errors.New("report url is required")
	}
	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = defaultReconnectInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("prefix", "client.Connector")
	}
	return &Connector{
		identityToken:     cfg.IdentityToken,
		reportURL:         cfg.ReportURL,
		httpClient:        httpClient,
		dialer:            &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		log:               log,
		alwaysReconnect:   cfg.AlwaysReconnect,
		reconnectInterval: interval,
	}, nil
}

// OnConnect registers fn to run after every successful dial, in registration
// order. fn receives the raw socket.
func (c *Connector) OnConnect(fn func(conn *websocket.Conn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnMessage registers fn for every inbound frame that passes envelope
// validation. Invalid frames are logged and dropped before the fan-out.
func (c *Connector) OnMessage(fn func(msg *Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

// OnDisconnect registers fn to run once per lost or closed socket.
func (c *Connector) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// IsConnected reports whether the connector currently holds an open socket.
func (c *Connector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.open
}

// Connect performs one admission attempt: token request, endpoint recovery,
// dial. A failure at any step aborts the attempt; only a later socket close
// schedules another one, and only when AlwaysReconnect is set.
func (c *Connector) Connect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("connector already has a socket")
	}
	if c.dialing {
		c.mu.Unlock()
		return errors.New("connect already in progress")
	}
	c.dialing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
	}()

	traceID := uuid.New().String()
	log := c.log.WithField("trace_id", traceID)

	connToken, err := c.requestToken(traceID)
	if err != nil {
		log.Errorf("connection token request failed: %v", err)
		return err
	}
	endpoint, err := reportEndpoint(connToken)
	if err != nil {
		log.Errorf("connection token is unusable: %v", err)
		return err
	}

	header := http.Header{}
	header.Set("Origin", connToken)
	conn, resp, err := c.dialer.Dial(endpoint, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		log.Errorf("dial of %v failed: %v", endpoint, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.open = true
	subs := append([]func(*websocket.Conn)(nil), c.onConnect...)
	c.mu.Unlock()

	log.Infof("connected to %v", endpoint)
	for _, fn := range subs {
		fn(conn)
	}
	utils.RunWithRecovery(func() { c.readLoop(conn) })
	return nil
}

// Send JSON-encodes message and writes it as one text frame. The message
// must carry a string type field.
func (c *Connector) Send(message any) error {
	c.mu.Lock()
	conn, open := c.conn, c.open
	c.mu.Unlock()
	if conn == nil {
		return errors.New("connector has no socket")
	}
	if !open {
		return errors.New("socket is not open")
	}

	payload, err := sonic.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	var probe map[string]any
	if err := sonic.Unmarshal(payload, &probe); err != nil {
		return errors.New("message is not an object")
	}
	if _, ok := probe["type"].(string); !ok {
		return errors.New("message type is not a string")
	}
	return c.write(conn, payload)
}

// Disconnect announces a deliberate stop, closes the socket and runs the
// disconnect subscribers before returning. Reconnection is disabled from
// this point on.
func (c *Connector) Disconnect(reason string) error {
	c.mu.Lock()
	c.alwaysReconnect = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	open := c.open
	c.conn = nil
	c.open = false
	subs := append([]func()(nil), c.onDisconnect...)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if open {
		farewell := wire.StateFrame{Type: wire.ClientStateType, State: wire.StateStopped + "." + reason}
		if payload, err := sonic.Marshal(farewell); err == nil {
			if err := c.write(conn, payload); err != nil {
				c.log.Debugf("farewell frame not sent: %v", err)
			}
		}
		deadline := time.Now().Add(writeTimeout)
		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err != nil && err != websocket.ErrCloseSent {
			c.log.Debugf("close frame not sent: %v", err)
		}
	}
	_ = conn.Close()

	for _, fn := range subs {
		fn()
	}
	return nil
}

func (c *Connector) write(conn *websocket.Conn, payload []byte) error {
	c.writeMux.Lock()
	defer c.writeMux.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// readLoop pumps frames to the message subscribers until the socket dies.
// Keeping a read pending also lets the library answer the server's pings.
func (c *Connector) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		env, err := wire.Parse(frame)
		if err != nil {
			c.log.Debugf("dropping inbound frame: %v", err)
			continue
		}
		msg := &Message{
			Type:     env.Type,
			Provider: env.Provider,
			Name:     env.Message,
			Fields:   env.Fields,
			Raw:      env.Raw,
		}
		c.mu.Lock()
		subs := append([]func(*Message)(nil), c.onMessage...)
		c.mu.Unlock()
		for _, fn := range subs {
			fn(msg)
		}
	}
	c.handleClose(conn)
}

// handleClose runs the disconnect path for a socket that died on its own.
// A socket Disconnect already swept is skipped so subscribers fire once.
func (c *Connector) handleClose(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.open = false
	reconnect := c.alwaysReconnect
	subs := append([]func()(nil), c.onDisconnect...)
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Info("connection closed")
	for _, fn := range subs {
		fn()
	}
	if reconnect {
		c.scheduleReconnect()
	}
}

func (c *Connector) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alwaysReconnect || c.reconnectTimer != nil {
		return
	}
	c.log.Infof("reconnecting in %v", c.reconnectInterval)
	c.reconnectTimer = time.AfterFunc(c.reconnectInterval, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		again := c.alwaysReconnect
		c.mu.Unlock()
		if !again {
			return
		}
		if err := c.Connect(); err != nil {
			c.log.Errorf("reconnect attempt failed: %v", err)
		}
	})
}
