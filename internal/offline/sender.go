package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// wire shapes for POST /api/batch.
type batchPayload struct {
	BatchID      string        `json:"batchId"`
	Transactions []scanPayload `json:"transactions"`
}

type scanPayload struct {
	TokenID         string `json:"tokenId"`
	TeamID          string `json:"teamId"`
	DeviceID        string `json:"deviceId,omitempty"`
	DeviceKind      string `json:"deviceKind,omitempty"`
	ClientTimestamp string `json:"clientTimestamp,omitempty"`
}

// HTTPSender uploads batches to the orchestrator's batch endpoint. The
// synchronous 200 response doubles as the acknowledgment, so OnAck should be
// wired to Queue.HandleAck.
type HTTPSender struct {
	BaseURL string
	Token   string
	Client  *http.Client
	OnAck   func(batchID string)
}

func (s *HTTPSender) SendBatch(ctx context.Context, batch Batch) error {
	payload := batchPayload{
		BatchID:      batch.ID,
		Transactions: make([]scanPayload, len(batch.Submissions)),
	}
	for i, sub := range batch.Submissions {
		payload.Transactions[i] = scanPayload{
			TokenID:    sub.TokenID,
			TeamID:     sub.TeamID,
			DeviceID:   sub.DeviceID,
			DeviceKind: string(sub.DeviceKind),
		}
		if !sub.ClientTime.IsZero() {
			payload.Transactions[i].ClientTimestamp = sub.ClientTime.Format(time.RFC3339Nano)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/batch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("batch upload returned %d", resp.StatusCode)
	}

	var ack struct {
		BatchID string `json:"batchId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decoding batch acknowledgment: %w", err)
	}
	if s.OnAck != nil {
		s.OnAck(ack.BatchID)
	}
	return nil
}
