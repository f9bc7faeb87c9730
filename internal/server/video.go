package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MediaStatus is the playback collaborator's answer to a trigger.
type MediaStatus string

const (
	MediaPlaying MediaStatus = "playing"
	MediaBusy    MediaStatus = "busy"
	MediaQueued  MediaStatus = "queued"
)

// MediaController triggers memory-video playback on the external screen.
// A nil controller disables playback entirely.
type MediaController interface {
	Play(ctx context.Context, tokenID, teamID string) (MediaStatus, error)
}

type httpMediaController struct {
	url    string
	client *http.Client
}

func NewHTTPMediaController(url string) MediaController {
	return &httpMediaController{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (m *httpMediaController) Play(ctx context.Context, tokenID, teamID string) (MediaStatus, error) {
	body, err := json.Marshal(map[string]string{
		"tokenId": tokenID,
		"teamId":  teamID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("video controller returned %d", resp.StatusCode)
	}

	var out struct {
		Status MediaStatus `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding video controller response: %w", err)
	}
	switch out.Status {
	case MediaPlaying, MediaBusy, MediaQueued:
		return out.Status, nil
	default:
		return "", fmt.Errorf("video controller returned unknown status %q", out.Status)
	}
}
