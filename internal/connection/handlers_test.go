package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/morrigan-server/morrigan/internal/models"
	"github.com/morrigan-server/morrigan/internal/utils"
)

func TestListConnectionsHandler(t *testing.T) {
	tp := newTestProvider(t)
	ctx := context.Background()
	for _, id := range []string{"c1", "c2"} {
		rec := models.ConnectionRecord{ID: id, ClientID: "cli-" + id, ReportURL: "r", Open: true}
		if err := tp.store.PutConnection(ctx, &rec); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	e := echo.New()
	w := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), w)

	if err := tp.svc.ListConnectionsHandler(c); err != nil {
		t.Fatalf("handler errored: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want 200", w.Code)
	}
	var got []models.ConnectionRecord
	if err := sonic.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body %s: %v", w.Body.String(), err)
	}
	if len(got) != 2 {
		t.Errorf("listed %d records, want 2", len(got))
	}
}

func TestGetConnectionHandler(t *testing.T) {
	tp := newTestProvider(t)
	ctx := context.Background()
	rec := models.ConnectionRecord{ID: "c1", ClientID: "cliX", ReportURL: "r", Open: true}
	if err := tp.store.PutConnection(ctx, &rec); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	e := echo.New()

	w := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), w)
	c.SetParamNames("connectionId")
	c.SetParamValues("c1")
	if err := tp.svc.GetConnectionHandler(c); err != nil {
		t.Fatalf("handler errored: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want 200", w.Code)
	}
	var got models.ConnectionRecord
	if err := sonic.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body %s: %v", w.Body.String(), err)
	}
	if got.ID != "c1" || got.ClientID != "cliX" {
		t.Errorf("got record %+v", got)
	}

	w = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), w)
	c.SetParamNames("connectionId")
	c.SetParamValues("ghost")
	if err := tp.svc.GetConnectionHandler(c); err != nil {
		t.Fatalf("handler errored: %v", err)
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("status for a missing record = %v, want 204", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("missing record answered with a body: %s", w.Body.String())
	}
}

func TestSendMessageHandlerValidation(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		body       string
		wantReason string
	}{
		{"missing id", "", `{"type":"demo.run"}`, "No connection id provided."},
		{"empty body", "c1", "", "No message provided."},
		{"not json", "c1", "plain", "Message is not a JSON object."},
		{"array body", "c1", `[1,2]`, "Message is not a JSON object."},
		{"no type", "c1", `{"x":1}`, "Message has no type."},
		{"type not string", "c1", `{"type":7}`, "Message has no type."},
	}

	tp := newTestProvider(t)
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			c := e.NewContext(req, w)
			c.SetParamNames("connectionId")
			c.SetParamValues(tt.id)

			if err := tp.svc.SendMessageHandler(c); err != nil {
				t.Fatalf("handler errored: %v", err)
			}
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %v, want 400", w.Code)
			}
			var body utils.StateRes
			if err := sonic.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("bad body %s: %v", w.Body.String(), err)
			}
			if body.State != "requestError" || body.Reason != tt.wantReason {
				t.Errorf("body = %+v, want requestError %q", body, tt.wantReason)
			}
		})
	}
}

func TestSendMessageHandlerDelivers(t *testing.T) {
	tp := newTestProvider(t)
	tp.identity.grant("cliX-token", "cliX")

	conn, recID := tp.connect(t, "cliX-token")
	defer conn.Close()

	message := `{"type":"demo.run","value":7}`
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(message))
	w := httptest.NewRecorder()
	c := e.NewContext(req, w)
	c.SetParamNames("connectionId")
	c.SetParamValues(recID)

	if err := tp.svc.SendMessageHandler(c); err != nil {
		t.Fatalf("handler errored: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want 200", w.Code)
	}
	var result SendResult
	if err := sonic.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad body %s: %v", w.Body.String(), err)
	}
	if result.Status != SendSuccess {
		t.Fatalf("send failed: %v", result.Reason)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(payload) != message {
		t.Errorf("delivered %s, want the body verbatim", payload)
	}
}

func TestSendMessageHandlerReportsFailure(t *testing.T) {
	tp := newTestProvider(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"demo.run"}`))
	w := httptest.NewRecorder()
	c := e.NewContext(req, w)
	c.SetParamNames("connectionId")
	c.SetParamValues("c-ghost")

	if err := tp.svc.SendMessageHandler(c); err != nil {
		t.Fatalf("handler errored: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want 200 with a failed result", w.Code)
	}
	var result SendResult
	if err := sonic.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad body %s: %v", w.Body.String(), err)
	}
	if result.Status != SendFailed || result.Reason != "No such connection." {
		t.Errorf("result = %+v", result)
	}
}
