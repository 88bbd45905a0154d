package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"BookmarkEnricher/internal/config"
	"BookmarkEnricher/internal/domain"
	"BookmarkEnricher/internal/internalerr"
	"BookmarkEnricher/internal/ports"
	"BookmarkEnricher/internal/truncate"
)

// Client implements ports.GenerationService against an OpenAI-compatible
// chat-completions endpoint.
//
// One Generate call runs a small state machine: Attempting, then Retrying
// on transient overload (fixed backoff, bounded attempts), truncate-and-
// retry on payload-too-large (outside the transient budget, each pass
// strictly shrinking the body), Fatal on any other non-2xx, Exhausted once
// a retry budget is spent. The client holds no document identity.
type Client struct {
	endpoint    string
	model       string
	apiKey      string
	params      domain.ModelParameters
	maxAttempts int
	backoff     time.Duration
	estimator   Estimator
	httpClient  *http.Client
	logger      *slog.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

var _ ports.GenerationService = (*Client)(nil)

// NewClient builds a generation client from configuration.
func NewClient(cfg config.GenerationConfig, logger *slog.Logger) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		params: domain.ModelParameters{
			Temperature:       cfg.Temperature,
			TopP:              cfg.TopP,
			TopK:              cfg.TopK,
			MaxTokens:         cfg.MaxTokens,
			RepetitionPenalty: cfg.RepetitionPenalty,
		},
		maxAttempts: cfg.MaxAttempts,
		backoff:     time.Duration(cfg.BackoffSeconds) * time.Second,
		estimator:   Estimator{MaxContext: cfg.MaxContextTokens},
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger,
		sleep:  time.Sleep,
	}
}

// ModelName identifies the model producing the extraction; persisted as the
// entity source.
func (c *Client) ModelName() string {
	return c.model
}

// Generate runs the default extraction task over the document body. When
// the model keeps producing schema-invalid answers, one last attempt is
// made with the concepts template: its tagged free-text output goes through
// the fallback extractor, salvaging an entities-only result instead of
// failing the document outright.
func (c *Client) Generate(ctx context.Context, bodyText string) (domain.GenerationResult, error) {
	result, err := c.GenerateWith(ctx, bodyText, TemplateInclusive)
	if errors.Is(err, internalerr.ErrResponseValidation) {
		c.logger.Warn("schema answers kept failing validation, re-asking for concepts")
		return c.GenerateWith(ctx, bodyText, TemplateConcepts)
	}
	return result, err
}

// GenerateWith runs a specific template over the document body.
func (c *Client) GenerateWith(ctx context.Context, bodyText string, kind TemplateKind) (domain.GenerationResult, error) {
	if c.endpoint == "" || c.model == "" {
		return domain.GenerationResult{}, fmt.Errorf("generation client misconfigured")
	}

	body := bodyText
	bodyBudget := c.estimator.BodyBudget(TemplateText(kind))

	// Preflight: shrink before the first call when the estimate already
	// says the prompt cannot fit.
	if !c.estimator.Fits(Render(kind, body)) {
		shorter, err := truncate.Shrink(body, bodyBudget, c.estimator.Estimate)
		if err != nil {
			return domain.GenerationResult{}, fmt.Errorf("preflight truncation: %w", err)
		}
		c.logger.Info("body truncated before send", "template", kind.String(),
			"original_len", len(body), "truncated_len", len(shorter))
		body = shorter
	}

	var transientRetries, validationRetries int

	for {
		status, raw, usage, err := c.post(ctx, Render(kind, body), kind == TemplateInclusive)
		if err != nil {
			return domain.GenerationResult{}, fmt.Errorf("generation request: %w", err)
		}

		switch {
		case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
			if transientRetries >= c.maxAttempts {
				return domain.GenerationResult{}, fmt.Errorf("%w after %d retries: %w",
					internalerr.ErrRetryLimitExceeded, transientRetries, internalerr.ErrServiceUnavailable)
			}
			transientRetries++
			c.logger.Warn("generation service overloaded, backing off",
				"status", status, "retry", transientRetries, "backoff", c.backoff)
			c.sleep(c.backoff)
			continue

		case status == http.StatusRequestEntityTooLarge || status == http.StatusUnprocessableEntity:
			// Payload too large for the model. Truncate and retry; this path
			// does not consume the transient budget, but every pass must
			// strictly shrink the body or we give up. When the service
			// rejects a body our estimator thought fine, the budget is
			// tightened below the current estimate first.
			if est := c.estimator.Estimate(body); est <= bodyBudget {
				bodyBudget = est * 3 / 4
			}
			if bodyBudget < 1 {
				return domain.GenerationResult{}, fmt.Errorf("body exhausted: %w", internalerr.ErrTextTooLong)
			}
			shorter, terr := truncate.Shrink(body, bodyBudget, c.estimator.Estimate)
			if terr != nil {
				return domain.GenerationResult{}, fmt.Errorf("%w: %w", internalerr.ErrPayloadTooLarge, terr)
			}
			if len(shorter) >= len(body) {
				return domain.GenerationResult{}, fmt.Errorf("truncation made no progress: %w", internalerr.ErrTextTooLong)
			}
			c.logger.Warn("payload too large, retrying with shorter body",
				"status", status, "original_len", len(body), "truncated_len", len(shorter))
			body = shorter
			continue

		case status != http.StatusOK:
			reason := strings.TrimSpace(string(raw))
			if len(reason) > 512 {
				reason = reason[:512]
			}
			return domain.GenerationResult{}, &internalerr.ServiceError{StatusCode: status, Reason: reason}
		}

		result, perr := ParseAnswer(string(raw))
		if perr != nil {
			if !errors.Is(perr, internalerr.ErrResponseValidation) {
				// Empty extraction is terminal; retrying an answer that
				// parsed cleanly but carried nothing rarely helps.
				return domain.GenerationResult{}, perr
			}
			if validationRetries >= c.maxAttempts {
				return domain.GenerationResult{}, fmt.Errorf("%w after %d retries", internalerr.ErrResponseValidation, validationRetries)
			}
			validationRetries++
			c.logger.Warn("response failed validation, retrying",
				"retry", validationRetries, "error", perr)
			c.sleep(c.backoff)
			continue
		}

		result.Usage = usage
		return result, nil
	}
}

type chatRequest struct {
	Model             string         `json:"model"`
	Messages          []chatMessage  `json:"messages"`
	Temperature       float64        `json:"temperature"`
	TopP              float64        `json:"top_p"`
	TopK              int            `json:"top_k,omitempty"`
	MaxTokens         int            `json:"max_tokens,omitempty"`
	RepetitionPenalty float64        `json:"repetition_penalty,omitempty"`
	ResponseFormat    map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// post sends one chat-completions request. On 2xx it returns the answer
// text and usage telemetry; on any other status it returns the raw error
// body so the caller can classify it. jsonMode forces a JSON object answer
// and is only set for the schema template; the tagged/numbered templates
// need plain text.
func (c *Client) post(ctx context.Context, prompt string, jsonMode bool) (int, []byte, map[string]any, error) {
	var responseFormat map[string]any
	if jsonMode {
		responseFormat = map[string]any{"type": "json_object"}
	}
	payload, err := json.Marshal(chatRequest{
		Model:             c.model,
		Messages:          []chatMessage{{Role: "user", Content: prompt}},
		Temperature:       c.params.Temperature,
		TopP:              c.params.TopP,
		TopK:              c.params.TopK,
		MaxTokens:         c.params.MaxTokens,
		RepetitionPenalty: c.params.RepetitionPenalty,
		ResponseFormat:    responseFormat,
	})
	if err != nil {
		return 0, nil, nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, raw, nil, nil
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, nil, nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return resp.StatusCode, nil, nil, nil
	}

	usage := map[string]any{
		"model":             c.model,
		"prompt_tokens":     parsed.Usage.PromptTokens,
		"completion_tokens": parsed.Usage.CompletionTokens,
		"total_tokens":      parsed.Usage.TotalTokens,
		"finish_reason":     parsed.Choices[0].FinishReason,
	}
	return resp.StatusCode, []byte(parsed.Choices[0].Message.Content), usage, nil
}
