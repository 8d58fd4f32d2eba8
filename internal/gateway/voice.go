package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"astromatch-backend/config"
	"astromatch-backend/internal/parse"
)

// VoiceGateway implements notification.VoiceClient against the telephony
// provider's call API. Outbound calls are rate limited process-wide so a
// burst of offers cannot flood the provider.
type VoiceGateway struct {
	cfg     *config.VoiceConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewVoiceGateway creates a voice client from config.
func NewVoiceGateway(cfg *config.VoiceConfig) *VoiceGateway {
	return &VoiceGateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.CallsPerMinute/60.0), 1),
	}
}

// PlaceReminder places an outbound reminder call of the given duration.
func (g *VoiceGateway) PlaceReminder(ctx context.Context, phoneNumber string, astrologerID int64, durationSeconds int) error {
	normalized, err := parse.NormalizePhone(phoneNumber, g.cfg.DefaultRegion)
	if err != nil {
		return fmt.Errorf("invalid phone number for astrologer %d: %w", astrologerID, err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait aborted: %w", err)
	}

	payload := map[string]any{
		"from":             g.cfg.CallerID,
		"to":               normalized,
		"astrologer_id":    astrologerID,
		"duration_seconds": durationSeconds,
	}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range g.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received non-2xx status code: %d", resp.StatusCode)
	}
	return nil
}
