package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

const maxBodySize = 1048576 // 1 MB

func TestParamsStorage_URLParameters(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/token?traceId=trace123&reason=reconnect", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	params, err := NewParamsStorage(c, maxBodySize)
	if err != nil {
		t.Error(err)
		return
	}

	traceID, ok := params.Get("traceId")
	if !ok {
		t.Error("Expected to find traceId parameter")
	}
	if traceID != "trace123" {
		t.Errorf("Expected traceId=trace123, got %s", traceID)
	}

	reason, ok := params.Get("reason")
	if !ok {
		t.Error("Expected to find reason parameter")
	}
	if reason != "reconnect" {
		t.Errorf("Expected reason=reconnect, got %s", reason)
	}
}

func TestParamsStorage_JSONBodyParameters(t *testing.T) {
	e := echo.New()

	jsonBody := `{"traceId": "trace456", "reason": "startup"}`
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	params, err := NewParamsStorage(c, maxBodySize)
	if err != nil {
		t.Error(err)
		return
	}

	traceID, ok := params.Get("traceId")
	if !ok {
		t.Error("Expected to find traceId parameter")
	}
	if traceID != "trace456" {
		t.Errorf("Expected traceId=trace456, got %s", traceID)
	}
}

func TestParamsStorage_JSONBodyParametersWithWrongContentType(t *testing.T) {
	e := echo.New()

	jsonBody := `{"traceId": "trace456"}`
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(jsonBody))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	params, err := NewParamsStorage(c, maxBodySize)
	if err != nil {
		t.Error(err)
		return
	}

	_, ok := params.Get("traceId")
	if ok {
		t.Error("Expected not to find traceId parameter")
	}
}

func TestParamsStorage_NonJSONBody(t *testing.T) {
	e := echo.New()

	body := "This is just a regular message, not JSON"
	req := httptest.NewRequest(http.MethodPost, "/token?traceId=trace123", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	params, err := NewParamsStorage(c, maxBodySize)
	if err != nil {
		t.Error(err)
		return
	}

	traceID, ok := params.Get("traceId")
	if !ok {
		t.Error("Expected to find traceId parameter")
	}
	if traceID != "trace123" {
		t.Errorf("Expected traceId=trace123, got %s", traceID)
	}
}

func TestParamsStorage_BodyIsTooLarge(t *testing.T) {
	e := echo.New()

	jsonBody := `{"traceId": "trace456", "reason": "startup"}`
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_, err := NewParamsStorage(c, 10)
	if err == nil {
		t.Error("Expected error when body is too large")
	} else if !strings.Contains(err.Error(), "body too large") {
		t.Errorf("Expected 'body too large' error, got: %s", err.Error())
	}
}
