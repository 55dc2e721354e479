package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Poster sends JSON payloads to the collector's REST endpoints. Every call is
// best-effort: only 201 Created counts as delivered.
type Poster struct {
	client   *http.Client
	baseURL  string
	user     string
	password string
	now      func() time.Time
}

func NewPoster(baseURL, user, password string, timeout time.Duration) *Poster {
	return &Poster{
		client:   &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		user:     user,
		password: password,
		now:      time.Now,
	}
}

// Post sends data to endpoint, adding a "time" field when it is missing.
func (p *Poster) Post(ctx context.Context, endpoint string, data map[string]any) bool {
	body := make(map[string]any, len(data)+1)
	for k, v := range data {
		body[k] = v
	}
	if _, ok := body["time"]; !ok {
		body["time"] = p.now().Format(time.RFC3339)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to marshal upload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to build upload request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if p.user != "" {
		req.SetBasicAuth(p.user, p.password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to update collector")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		content, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", endpoint).
			Str("content", string(content)).
			Msg("Collector rejected upload")
		return false
	}

	log.Debug().Str("endpoint", endpoint).RawJSON("payload", payload).Msg("Collector updated")
	return true
}
