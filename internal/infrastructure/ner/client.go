package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"BookmarkEnricher/internal/config"
	"BookmarkEnricher/internal/domain"
	"BookmarkEnricher/internal/ports"
)

// Client calls an external named-entity-recognition service over HTTP. The
// service receives plain text and returns labeled spans, optionally linked
// to Wikidata.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var _ ports.EntityRecognizer = (*Client)(nil)

// NewClient builds the recognizer from configuration.
func NewClient(cfg config.NERConfig) *Client {
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Labels worth keeping; the rest (dates, quantities, ordinals and such)
// add noise without being useful search facets.
var keptLabels = map[string]bool{
	"ORG":         true,
	"PERSON":      true,
	"WORK_OF_ART": true,
	"NORP":        true,
	"EVENT":       true,
	"GPE":         true,
	"LOC":         true,
	"PRODUCT":     true,
}

type recognizeRequest struct {
	Text string `json:"text"`
}

type recognizedSpan struct {
	Text        string   `json:"text"`
	Label       string   `json:"label"`
	WikidataID  string   `json:"wikidata_id"`
	Description string   `json:"description"`
	Score       *float64 `json:"score"`
}

// Recognize sends the text off for tagging and maps the kept labels onto
// entities. Duplicate surface forms are collapsed to their first occurrence.
func (c *Client) Recognize(ctx context.Context, text string) ([]domain.Entity, error) {
	payload, err := json.Marshal(recognizeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ner service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ner service returned status %d", resp.StatusCode)
	}

	var spans []recognizedSpan
	if err := json.NewDecoder(resp.Body).Decode(&spans); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	seen := make(map[string]bool)
	var entities []domain.Entity
	for _, span := range spans {
		if !keptLabels[span.Label] || span.Text == "" || seen[span.Text] {
			continue
		}
		seen[span.Text] = true
		entities = append(entities, domain.Entity{
			Name:        span.Text,
			Type:        span.Label,
			Description: span.Description,
			Source:      "ner",
			WikidataID:  span.WikidataID,
			Score:       span.Score,
		})
	}
	return entities, nil
}
