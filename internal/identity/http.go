package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/morrigan-server/morrigan/internal/models"
)

// HTTPProvider delegates identity decisions to a remote identity service.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type verifyResponse struct {
	OK       bool   `json:"ok"`
	ClientID string `json:"clientId"`
	State    string `json:"state"`
	Reason   string `json:"reason"`
}

func (p *HTTPProvider) VerifyIdentity(ctx context.Context, token string) (*Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init request: %w", err)
	}
	req.Header.Set("Authorization", token)

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusForbidden {
		return nil, fmt.Errorf("identity service answered %v", res.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	return &Verification{OK: body.OK, ClientID: body.ClientID, State: body.State, Reason: body.Reason}, nil
}

func (p *HTTPProvider) GetClient(ctx context.Context, clientID string) (*models.ClientDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/clients/"+clientID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init request: %w", err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, ErrClientNotFound
	default:
		return nil, fmt.Errorf("identity service answered %v", res.StatusCode)
	}

	var descriptor models.ClientDescriptor
	if err := json.NewDecoder(res.Body).Decode(&descriptor); err != nil {
		return nil, fmt.Errorf("failed to decode client descriptor: %w", err)
	}
	return &descriptor, nil
}

func (p *HTTPProvider) SetClientState(ctx context.Context, clientID, state string) error {
	postBody, err := json.Marshal(map[string]string{"state": state})
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/clients/"+clientID+"/state", bytes.NewReader(postBody))
	if err != nil {
		return fmt.Errorf("failed to init request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status code: %v", res.StatusCode)
	}
	return nil
}
