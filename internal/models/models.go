package models

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// Collection names are shared with every other deployment reading the same
// store and must not change.
const (
	ConnectionsCollection = "morrigan.connections"
	TokensCollection      = "morrigan.connections.tokens"
)

// Capabilities a client descriptor may grant.
const (
	CapabilityAPI            = "api"
	CapabilityConnection     = "connection"
	CapabilityConnectionSend = "connection.send"
)

// Stored instants use the millisecond RFC 3339 form.
const isoFormat = "2006-01-02T15:04:05.000Z07:00"

// ISOTime is a time.Time that serializes as an ISO-8601 string.
type ISOTime struct {
	time.Time
}

func NewISOTime(t time.Time) ISOTime {
	return ISOTime{t.UTC()}
}

func (t ISOTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(isoFormat) + `"`), nil
}

func (t *ISOTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*t = ISOTime{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s[1:len(s)-1])
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// ConnectedAt is the JSON literal false until the websocket upgrade promotes
// the record, afterwards the promotion instant.
type ConnectedAt struct {
	ISOTime
}

func (c ConnectedAt) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("false"), nil
	}
	return c.ISOTime.MarshalJSON()
}

func (c *ConnectedAt) UnmarshalJSON(data []byte) error {
	if s := string(data); s == "false" || s == "null" {
		*c = ConnectedAt{}
		return nil
	}
	return c.ISOTime.UnmarshalJSON(data)
}

// ConnectionRecord is the authoritative state of one client session. The
// record lives in the store; the socket and heartbeat handles belonging to it
// stay in the owning server's process.
type ConnectionRecord struct {
	ID            string      `json:"id"`
	ClientID      string      `json:"clientId"`
	ServerID      string      `json:"serverId,omitempty"`
	TokenID       string      `json:"tokenId,omitempty"`
	ClientAddress string      `json:"clientAddress,omitempty"`
	ReportURL     string      `json:"reportUrl"`
	Timeout       *ISOTime    `json:"timeout,omitempty"`
	Connected     ConnectedAt `json:"connected"`
	Disconnected  *ISOTime    `json:"disconnected,omitempty"`
	Alive         bool        `json:"alive"`
	Open          bool        `json:"open"`
	LastHeartbeat *ISOTime    `json:"lastHeartbeat,omitempty"`
}

// IsLive reports whether the record still holds its client's single
// connection slot: open and either promoted or within the issuance window.
func (r *ConnectionRecord) IsLive(now time.Time) bool {
	if !r.Open {
		return false
	}
	if !r.Connected.IsZero() {
		return true
	}
	return r.Timeout != nil && !r.Timeout.Before(now)
}

// TokenRecord tracks an issued connection token for the lifetime of its
// record. Cleanup removes both together.
type TokenRecord struct {
	ID      string  `json:"id"`
	Subject string  `json:"subject"`
	Expires ISOTime `json:"expires"`
}

// ClientDescriptor is what the identity provider knows about a client
// principal. Functions is the capability list authorization checks read.
type ClientDescriptor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	State     string   `json:"state,omitempty"`
	Functions []string `json:"functions,omitempty"`
}

// HasFunction reports whether the descriptor grants the named capability.
func (c *ClientDescriptor) HasFunction(name string) bool {
	return slices.Contains(c.Functions, name)
}
