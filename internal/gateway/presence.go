// Package gateway holds the HTTP clients for the external collaborators the
// matching core talks to: the presence service and the telephony provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"astromatch-backend/config"
	"astromatch-backend/internal/notification"
)

// presenceResponse is the wire format of the presence service.
type presenceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Show string `json:"show"`
	} `json:"data"`
}

// PresenceGateway implements notification.PresenceClient over HTTP.
type PresenceGateway struct {
	cfg    *config.PresenceConfig
	client *http.Client
}

// NewPresenceGateway creates a presence client from config.
func NewPresenceGateway(cfg *config.PresenceConfig) *PresenceGateway {
	return &PresenceGateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Check queries the presence service for one astrologer.
func (g *PresenceGateway) Check(ctx context.Context, astrologerID int64) (*notification.Presence, error) {
	payload := map[string]any{"astrologer_id": astrologerID}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal presence request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range g.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var presenceResp presenceResponse
	if err := json.Unmarshal(body, &presenceResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence response: %w", err)
	}

	return &notification.Presence{
		Success: presenceResp.Success,
		Show:    presenceResp.Data.Show,
	}, nil
}
