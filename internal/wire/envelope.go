// Package wire defines the JSON message envelope exchanged over provider
// websockets. Every frame is a UTF-8 JSON object whose required "type" field
// names a provider and a message, split at the first dot.
package wire

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/bytedance/sonic"
)

// Control frames exchanged during session setup and teardown.
const (
	ConnectionStateType = "connection.state"
	ClientStateType     = "client.state"

	StateAccepted = "accepted"
	StateReady    = "ready"
	StateRejected = "rejected"
	StateStopped  = "stopped"
)

// StateFrame is the small control message both peers send.
type StateFrame struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

var typePattern = regexp.MustCompile(`^(?P<provider>[A-Za-z0-9_-]+)\.(?P<message>[A-Za-z0-9._-]+)$`)

// Envelope is one parsed inbound frame. Provider and Message are the halves
// of the type discriminator; Fields holds the decoded object for handlers
// that need payload access and Raw the frame exactly as received.
type Envelope struct {
	Type     string
	Provider string
	Message  string
	Fields   map[string]any
	Raw      []byte
}

// String returns a payload field as a string, with ok reporting both presence
// and type.
func (e *Envelope) String(key string) (string, bool) {
	v, ok := e.Fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Parse validates a frame against the envelope contract. The error says which
// rule the frame broke; callers log it and drop the frame.
func Parse(frame []byte) (*Envelope, error) {
	var fields map[string]any
	if err := sonic.Unmarshal(frame, &fields); err != nil {
		return nil, fmt.Errorf("frame is not a json object: %w", err)
	}
	raw, ok := fields["type"]
	if !ok {
		return nil, errors.New("frame has no type field")
	}
	typ, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("frame type is %T, expected string", raw)
	}
	match := typePattern.FindStringSubmatch(typ)
	if match == nil {
		return nil, fmt.Errorf("frame type %q does not match provider.message", typ)
	}
	return &Envelope{
		Type:     typ,
		Provider: match[1],
		Message:  match[2],
		Fields:   fields,
		Raw:      frame,
	}, nil
}
