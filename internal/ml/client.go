// Package ml talks to the external relevance model service.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/ssaamm/rss2/internal/model"
)

// ErrNoModel is returned when no model has been trained for a feed.
var ErrNoModel = errors.New("no model for feed")

// Scorer assigns relevance scores in [0,1] to digest items.
type Scorer interface {
	Score(ctx context.Context, feedID string, items []model.FeedItem) ([]float64, error)
}

// Client scores items through an HTTP inference service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ Scorer = (*Client)(nil)

// NewClient creates a reusable HTTP client. A non-positive timeout selects 15s.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type scoreItem struct {
	Link       string   `json:"link"`
	Title      string   `json:"title,omitempty"`
	Author     string   `json:"author,omitempty"`
	Categories []string `json:"categories"`
}

type scoreRequest struct {
	FeedID string      `json:"feed_id"`
	Items  []scoreItem `json:"items"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// Score returns one score per item, clamped to [0,1]. It returns ErrNoModel
// when the service has no model for feedID.
func (c *Client) Score(ctx context.Context, feedID string, items []model.FeedItem) ([]float64, error) {
	payload := scoreRequest{FeedID: feedID, Items: make([]scoreItem, len(items))}
	for i, it := range items {
		si := scoreItem{Link: it.Link, Categories: it.Categories}
		if si.Categories == nil {
			si.Categories = []string{}
		}
		if it.Title != nil {
			si.Title = *it.Title
		}
		if it.Author != nil {
			si.Author = *it.Author
		}
		payload.Items[i] = si
	}

	var resp scoreResponse
	if err := c.post(ctx, "/score", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Scores) != len(items) {
		return nil, fmt.Errorf("got %d scores for %d items", len(resp.Scores), len(items))
	}
	for i, s := range resp.Scores {
		resp.Scores[i] = clamp(s)
	}
	return resp.Scores, nil
}

func clamp(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

func (c *Client) post(ctx context.Context, path string, payload, v interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrNoModel
	default:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
