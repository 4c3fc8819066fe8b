package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

type WebhookPayload struct {
	Status     string    `json:"status"`
	Table      string    `json:"table"`
	ChainID    string    `json:"chain_id"`
	Batches    int       `json:"batches"`
	Rows       int64     `json:"rows"`
	Bytes      int64     `json:"bytes"`
	LastOffset int64     `json:"last_offset,omitempty"`
	Duration   string    `json:"duration"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Repository string    `json:"repository,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	RunURL     string    `json:"run_url,omitempty"`
}

type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, summary *ChainSummary) error {
	if n.url == "" {
		return nil
	}

	body, err := json.Marshal(buildWebhookPayload(summary))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "json-s3-export/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-success status: %d", resp.StatusCode)
	}

	return nil
}

func buildWebhookPayload(summary *ChainSummary) *WebhookPayload {
	payload := &WebhookPayload{
		Table:     summary.Table,
		ChainID:   summary.ChainID,
		Batches:   summary.Batches,
		Rows:      summary.Rows,
		Bytes:     summary.Bytes,
		Duration:  summary.Duration.String(),
		Timestamp: time.Now().UTC(),
	}

	if summary.Success {
		payload.Status = "success"
	} else {
		payload.Status = "failure"
		payload.LastOffset = summary.LastOffset
		if summary.Error != nil {
			payload.Error = summary.Error.Error()
		}
	}

	if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
		payload.Repository = repo
	}
	if runID := os.Getenv("GITHUB_RUN_ID"); runID != "" {
		payload.RunID = runID
		if serverURL := os.Getenv("GITHUB_SERVER_URL"); serverURL != "" && payload.Repository != "" {
			payload.RunURL = fmt.Sprintf("%s/%s/actions/runs/%s", serverURL, payload.Repository, runID)
		}
	}

	return payload
}
