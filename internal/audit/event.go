// Package audit records connection lifecycle events into a bounded buffer
// and ships them to an optional HTTP sink. Recording never blocks the
// lifecycle paths; when the buffer is full, events are dropped and counted.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/models"
)

// Event kinds recorded by the connection provider.
const (
	EventTokenIssued     = "connection-token-issued"
	EventTokenRejected   = "connection-token-rejected"
	EventConnected       = "connection-established"
	EventDisconnected    = "connection-closed"
	EventHeartbeatMissed = "connection-heartbeat-missed"
	EventSendFailed      = "connection-send-failed"
)

// Event is one audit record.
type Event struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	ServerID     string         `json:"serverId"`
	ConnectionID string         `json:"connectionId,omitempty"`
	ClientID     string         `json:"clientId,omitempty"`
	TraceID      string         `json:"traceId,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Time         models.ISOTime `json:"time"`
}

// Recorder builds events for one server instance and feeds the collector.
// A nil Recorder is valid and records nothing, so callers never have to
// check whether auditing is configured.
type Recorder struct {
	serverID  string
	collector *RingCollector
}

func NewRecorder(serverID string, collector *RingCollector) *Recorder {
	return &Recorder{serverID: serverID, collector: collector}
}

func (r *Recorder) record(kind, connectionID, clientID, traceID, reason string) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.TryAdd(Event{
		ID:           newEventID(),
		Kind:         kind,
		ServerID:     r.serverID,
		ConnectionID: connectionID,
		ClientID:     clientID,
		TraceID:      traceID,
		Reason:       reason,
		Time:         models.NewISOTime(time.Now()),
	})
}

func (r *Recorder) TokenIssued(connectionID, clientID, traceID string) {
	r.record(EventTokenIssued, connectionID, clientID, traceID, "")
}

func (r *Recorder) TokenRejected(clientID, traceID, reason string) {
	r.record(EventTokenRejected, "", clientID, traceID, reason)
}

func (r *Recorder) Connected(connectionID, clientID string) {
	r.record(EventConnected, connectionID, clientID, "", "")
}

func (r *Recorder) Disconnected(connectionID, clientID string) {
	r.record(EventDisconnected, connectionID, clientID, "", "")
}

func (r *Recorder) HeartbeatMissed(connectionID, clientID string) {
	r.record(EventHeartbeatMissed, connectionID, clientID, "", "")
}

func (r *Recorder) SendFailed(connectionID, reason string) {
	r.record(EventSendFailed, connectionID, "", "", reason)
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		logrus.WithError(err).Warn("Failed to generate UUIDv7, falling back to UUIDv4")
		return uuid.New().String()
	}
	return id.String()
}
