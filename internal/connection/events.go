package connection

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
)

// Channel names understood by the event bus.
const (
	EventAuthenticate = "authenticate"
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
)

// LifecycleHandler observes one lifecycle transition. Handlers run
// synchronously in registration order and may mutate the record in place;
// nothing is persisted on their behalf.
type LifecycleHandler func(record *models.ConnectionRecord, session *Session)

// Subscription identifies one registered handler so it can be removed again.
type Subscription struct {
	channel string
	id      uint64
}

type subscriber struct {
	id uint64
	fn LifecycleHandler
}

// EventBus fans lifecycle transitions out to subscribers. The three channels
// are fixed; subscribing to any other name is reported and ignored.
type EventBus struct {
	mux    sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
}

func NewEventBus() *EventBus {
	return &EventBus{
		subs: map[string][]subscriber{
			EventAuthenticate: nil,
			EventConnect:      nil,
			EventDisconnect:   nil,
		},
	}
}

// On appends a handler to the named channel and returns its subscription
// handle. An unknown channel is logged and returns nil.
func (b *EventBus) On(channel string, fn LifecycleHandler) *Subscription {
	log := log.WithField("prefix", "EventBus.On")
	b.mux.Lock()
	defer b.mux.Unlock()
	if _, ok := b.subs[channel]; !ok {
		log.Errorf("unknown event channel %q", channel)
		return nil
	}
	b.nextID++
	b.subs[channel] = append(b.subs[channel], subscriber{id: b.nextID, fn: fn})
	return &Subscription{channel: channel, id: b.nextID}
}

// Off removes a previously registered handler. Nil subscriptions are ignored.
func (b *EventBus) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mux.Lock()
	defer b.mux.Unlock()
	list := b.subs[sub.channel]
	for i := range list {
		if list[i].id == sub.id {
			b.subs[sub.channel] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit invokes the channel's handlers in registration order. A panicking
// handler is logged and does not stop the handlers after it.
func (b *EventBus) Emit(channel string, record *models.ConnectionRecord, session *Session) {
	log := log.WithField("prefix", "EventBus.Emit")
	b.mux.RLock()
	list, ok := b.subs[channel]
	if !ok {
		b.mux.RUnlock()
		log.Errorf("unknown event channel %q", channel)
		return
	}
	handlers := make([]subscriber, len(list))
	copy(handlers, list)
	b.mux.RUnlock()

	for _, sub := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("%v handler panicked: %v", channel, r)
				}
			}()
			sub.fn(record, session)
		}()
	}
}
