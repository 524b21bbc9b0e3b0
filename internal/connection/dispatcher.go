package connection

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/wire"
)

// MessageHandler processes one routed inbound frame. The record argument is
// the session's working copy at dispatch time; mutations that must stick go
// through session.WithRecord. A returned error is logged and the connection
// survives it.
type MessageHandler func(env *wire.Envelope, session *Session, record *models.ConnectionRecord, svc *Service) error

// Dispatcher routes parsed envelopes to provider handlers through a
// two-level map. It keeps no per-frame state; frames from one socket are
// dispatched in arrival order by that session's read loop.
type Dispatcher struct {
	mux       sync.RWMutex
	providers map[string]map[string]MessageHandler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{providers: make(map[string]map[string]MessageHandler)}
}

// Register binds a handler to provider.message. A later registration for the
// same pair replaces the earlier one.
func (d *Dispatcher) Register(provider, message string, handler MessageHandler) {
	d.mux.Lock()
	defer d.mux.Unlock()
	msgs, ok := d.providers[provider]
	if !ok {
		msgs = make(map[string]MessageHandler)
		d.providers[provider] = msgs
	}
	msgs[message] = handler
}

func (d *Dispatcher) lookup(provider, message string) (MessageHandler, bool) {
	d.mux.RLock()
	defer d.mux.RUnlock()
	msgs, ok := d.providers[provider]
	if !ok {
		return nil, false
	}
	h, ok := msgs[message]
	return h, ok
}

// Dispatch runs the validation pipeline for one frame. Invalid frames and
// handler failures are logged and dropped; neither tears the connection
// down.
func (d *Dispatcher) Dispatch(frame []byte, session *Session, svc *Service) {
	log := logrus.WithField("prefix", "Dispatcher.Dispatch")

	env, err := wire.Parse(frame)
	if err != nil {
		droppedFramesMetric.Inc()
		log.Debugf("dropping frame from %v: %v", session.ID, err)
		return
	}
	handler, ok := d.lookup(env.Provider, env.Message)
	if !ok {
		droppedFramesMetric.Inc()
		log.Debugf("dropping %v from %v: no handler registered", env.Type, session.ID)
		return
	}

	rec := session.Record()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler for %v panicked: %v", env.Message, r)
		}
	}()
	if err := handler(env, session, &rec, svc); err != nil {
		log.Errorf("handler for %v failed: %v", env.Message, err)
	}
}
