package connection

import (
	"context"
	"testing"
	"time"

	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/wire"
)

func TestSendValidation(t *testing.T) {
	tp := newTestProvider(t)
	ctx := context.Background()

	seed := []models.ConnectionRecord{
		{ID: "c-live", ClientID: "cliA", ServerID: "srvA", ReportURL: "r", Alive: true, Open: true},
		{ID: "c-foreign", ClientID: "cliB", ServerID: "srvB", ReportURL: "r", Alive: true, Open: true},
		{ID: "c-closed", ClientID: "cliC", ServerID: "srvA", ReportURL: "r", Alive: false, Open: false},
		{ID: "c-silent", ClientID: "cliD", ServerID: "srvA", ReportURL: "r", Alive: false, Open: true},
	}
	for i := range seed {
		if err := tp.store.PutConnection(ctx, &seed[i]); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	tests := []struct {
		name       string
		id         string
		wantReason string
	}{
		{"unknown connection", "c-ghost", "No such connection."},
		{"closed connection", "c-closed", "Connection closed or client not live."},
		{"silent connection", "c-silent", "Connection closed or client not live."},
		{"foreign server", "c-foreign", "Connection 'c-foreign' does not belong to this server ('srvA')."},
		{"no local socket", "c-live", "Connection closed or client not live."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tp.svc.Send(ctx, tt.id, "payload")
			if result.Status != SendFailed {
				t.Fatalf("status = %v, want %v", result.Status, SendFailed)
			}
			if result.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", result.Reason, tt.wantReason)
			}
		})
	}
}

func TestSendEncodesPayloads(t *testing.T) {
	tp := newTestProvider(t)
	tp.identity.grant("cliX-token", "cliX")

	conn, recID := tp.connect(t, "cliX-token")
	defer conn.Close()

	tests := []struct {
		name    string
		message any
		want    string
	}{
		{"string passes through", `{"type":"demo.run"}`, `{"type":"demo.run"}`},
		{"plain string stays unquoted", "plain text", "plain text"},
		{"bytes pass through", []byte(`{"type":"demo.raw"}`), `{"type":"demo.raw"}`},
		{"values are encoded", wire.StateFrame{Type: "demo.state", State: "on"}, `{"type":"demo.state","state":"on"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tp.svc.Send(context.Background(), recID, tt.message)
			if result.Status != SendSuccess {
				t.Fatalf("send failed: %v", result.Reason)
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, payload, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if string(payload) != tt.want {
				t.Errorf("delivered %s, want %s", payload, tt.want)
			}
		})
	}
}
