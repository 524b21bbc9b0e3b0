package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
)

const maxTokenResponseSize = 1 << 20

type tokenRequest struct {
	IDToken string `json:"idtoken"`
	TraceID string `json:"traceId"`
}

type tokenResponse struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
	Token  string `json:"token"`
}

// requestToken exchanges the identity token for a short-lived connection
// token. Any refusal is terminal for this attempt.
func (c *Connector) requestToken(traceID string) (string, error) {
	payload, err := sonic.Marshal(tokenRequest{IDToken: c.identityToken, TraceID: traceID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, c.reportURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.identityToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return "", err
	}

	var parsed tokenResponse
	if resp.StatusCode != http.StatusOK {
		if sonic.Unmarshal(body, &parsed) == nil && parsed.Reason != "" {
			return "", fmt.Errorf("token request refused (%v): %v", resp.StatusCode, parsed.Reason)
		}
		return "", fmt.Errorf("token request answered %v", resp.StatusCode)
	}
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("token response is not json: %w", err)
	}
	if parsed.Token == "" {
		return "", errors.New("token response carries no token")
	}
	return parsed.Token, nil
}

// reportEndpoint recovers the websocket endpoint embedded in the connection
// token. The signature is not checked here; only the server holds the key.
// Tokens with padded base64 segments are accepted.
func reportEndpoint(connToken string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithPaddingAllowed())
	if _, _, err := parser.ParseUnverified(connToken, claims); err != nil {
		return "", fmt.Errorf("failed to decode connection token: %w", err)
	}
	raw, ok := claims["reportUrl"].(string)
	if !ok || raw == "" {
		return "", errors.New("connection token carries no report url")
	}
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://"), nil
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://"), nil
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw, nil
	default:
		return "", fmt.Errorf("report url %q has no usable scheme", raw)
	}
}
