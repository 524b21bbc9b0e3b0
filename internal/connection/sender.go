package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/storage"
)

// Send statuses.
const (
	SendSuccess = "success"
	SendFailed  = "failed"
)

// SendResult is the outcome the sender reports. Reason is set on failure.
type SendResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func failedResult(reason string) SendResult {
	return SendResult{Status: SendFailed, Reason: reason}
}

// Send delivers one message to a locally owned live connection. Strings and
// raw bytes go to the socket as-is, everything else is JSON-encoded. Success
// means the frame was handed to the socket; there is no delivery ack.
func (svc *Service) Send(ctx context.Context, connectionID string, message any) SendResult {
	log := logrus.WithField("prefix", "Service.Send")

	rec, err := svc.registry.FindByID(ctx, connectionID)
	if errors.Is(err, storage.ErrNotFound) {
		svc.audit.SendFailed(connectionID, "No such connection.")
		return failedResult("No such connection.")
	}
	if err != nil {
		log.Errorf("lookup of %v failed: %v", connectionID, err)
		svc.audit.SendFailed(connectionID, err.Error())
		return failedResult(err.Error())
	}
	if !rec.Alive || !rec.Open {
		svc.audit.SendFailed(connectionID, "Connection closed or client not live.")
		return failedResult("Connection closed or client not live.")
	}
	if rec.ServerID != svc.serverID {
		reason := fmt.Sprintf("Connection '%v' does not belong to this server ('%v').", connectionID, svc.serverID)
		svc.audit.SendFailed(connectionID, reason)
		return failedResult(reason)
	}
	session, ok := svc.registry.Session(connectionID)
	if !ok {
		svc.audit.SendFailed(connectionID, "Connection closed or client not live.")
		return failedResult("Connection closed or client not live.")
	}

	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		payload, err = sonic.Marshal(message)
		if err != nil {
			log.Errorf("failed to encode message for %v: %v", connectionID, err)
			svc.audit.SendFailed(connectionID, err.Error())
			return failedResult(err.Error())
		}
	}

	if err := session.SendText(payload); err != nil {
		log.Errorf("write to %v failed: %v", connectionID, err)
		svc.audit.SendFailed(connectionID, err.Error())
		return failedResult(err.Error())
	}
	deliveredMessagesMetric.Inc()
	return SendResult{Status: SendSuccess}
}
