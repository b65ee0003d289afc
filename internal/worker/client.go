package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/distrobot/herd/internal/models"
)

// Client talks to the coordinator's /work API. Transport faults and 5xx
// responses come back wrapped as TransientError so the loop's retry policy
// can branch on type rather than on message text.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Next(ctx context.Context, workerID string) (*models.Assignment, error) {
	u := c.baseURL + "/work/next?worker_id=" + url.QueryEscape(workerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var a models.Assignment
		if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
			return nil, fmt.Errorf("decode assignment: %w", err)
		}
		return &a, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.ErrNoWork
	case resp.StatusCode >= 500:
		return nil, models.Transient(fmt.Errorf("claim: coordinator returned %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("claim: coordinator returned %d", resp.StatusCode)
	}
}

func (c *Client) Report(ctx context.Context, attemptID string, outcome models.AttemptOutcome, report string) error {
	body, err := json.Marshal(map[string]string{
		"attempt_id": attemptID,
		"outcome":    string(outcome),
		"report":     report,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/work/report", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrAttemptNotFound
	case resp.StatusCode >= 500:
		return models.Transient(fmt.Errorf("report: coordinator returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("report: coordinator returned %d", resp.StatusCode)
	}
}

func (c *Client) Status(ctx context.Context) (models.StatusCounts, error) {
	var counts models.StatusCounts

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/work/status", nil)
	if err != nil {
		return counts, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return counts, models.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return counts, models.Transient(fmt.Errorf("status: coordinator returned %d", resp.StatusCode))
	}

	var out struct {
		CountsByStatus map[string]int `json:"counts_by_status"`
		Total          int            `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return counts, fmt.Errorf("decode status: %w", err)
	}

	counts.Pending = out.CountsByStatus[string(models.ItemStatusPending)]
	counts.Claimed = out.CountsByStatus[string(models.ItemStatusClaimed)]
	counts.Completed = out.CountsByStatus[string(models.ItemStatusCompleted)]
	counts.Failed = out.CountsByStatus[string(models.ItemStatusFailed)]
	counts.Total = out.Total
	return counts, nil
}

func (c *Client) Seed(ctx context.Context, items []models.SeedItem) (int, error) {
	body, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/work/seed", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, models.Transient(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out map[string]int
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return 0, err
		}
		return out["seeded"], nil
	case http.StatusConflict:
		return 0, models.ErrSeedWhileRunning
	default:
		return 0, fmt.Errorf("seed: coordinator returned %d", resp.StatusCode)
	}
}

func (c *Client) Reset(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/work/reset", nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, models.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("reset: coordinator returned %d", resp.StatusCode)
	}

	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out["reset_count"], nil
}
