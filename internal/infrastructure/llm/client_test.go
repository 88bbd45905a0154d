package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BookmarkEnricher/internal/config"
	"BookmarkEnricher/internal/internalerr"
)

func newTestClient(endpoint string) *Client {
	cfg := config.GenerationConfig{
		Endpoint:          endpoint,
		Model:             "test-model",
		APIKey:            "secret",
		MaxContextTokens:  4000,
		MaxAttempts:       2,
		BackoffSeconds:    1,
		Temperature:       0.2,
		TopP:              0.8,
		TopK:              70,
		MaxTokens:         512,
		RepetitionPenalty: 1.0,
	}
	c := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.sleep = func(time.Duration) {}
	return c
}

func chatOK(t *testing.T, content string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	if err != nil {
		t.Fatalf("marshal chat response: %v", err)
	}
	return raw
}

func promptOf(t *testing.T, r *http.Request) string {
	t.Helper()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode chat request: %v", err)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected a single message, got %d", len(req.Messages))
	}
	return req.Messages[0].Content
}

func TestGenerateSuccess(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header: %q", got)
		}
		_, _ = w.Write(chatOK(t, validAnswer))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Generate(t.Context(), "A short article body about quantum computing.")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if requests != 1 {
		t.Fatalf("expected 1 request, got %d", requests)
	}
	if result.OneSentenceSummary == "" || len(result.BulletPoints) == 0 || len(result.Entities) == 0 {
		t.Fatalf("incomplete result: %#v", result)
	}
	if result.Usage["model"] != "test-model" {
		t.Fatalf("usage missing model: %#v", result.Usage)
	}
	if result.Usage["total_tokens"] != 15 {
		t.Fatalf("usage missing token counts: %#v", result.Usage)
	}
}

func TestGenerateRetriesOnOverload(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(chatOK(t, validAnswer))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var slept int
	c.sleep = func(time.Duration) { slept++ }

	if _, err := c.Generate(t.Context(), "body text."); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected 2 requests, got %d", requests)
	}
	if slept != 1 {
		t.Fatalf("expected 1 backoff sleep, got %d", slept)
	}
}

func TestGenerateRetryLimit(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Generate(t.Context(), "body text.")
	if !errors.Is(err, internalerr.ErrRetryLimitExceeded) {
		t.Fatalf("expected ErrRetryLimitExceeded, got %v", err)
	}
	if requests != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d requests", requests)
	}
}

func TestGenerateTruncatesOnPayloadTooLarge(t *testing.T) {
	t.Parallel()

	var (
		requests int
		prompts  []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		prompts = append(prompts, promptOf(t, r))
		if requests == 1 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write(chatOK(t, validAnswer))
	}))
	defer srv.Close()

	var body strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&body, "Paragraph %d explains a different aspect of the subject matter. ", i)
	}

	c := newTestClient(srv.URL)
	if _, err := c.Generate(t.Context(), body.String()); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected 2 requests, got %d", requests)
	}
	if len(prompts[1]) >= len(prompts[0]) {
		t.Fatalf("second prompt (%d) should be shorter than first (%d)", len(prompts[1]), len(prompts[0]))
	}
}

func TestGenerateFatalStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("model not available"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Generate(t.Context(), "body text.")

	var svcErr *internalerr.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if svcErr.StatusCode != http.StatusBadRequest || svcErr.Reason != "model not available" {
		t.Fatalf("unexpected service error: %#v", svcErr)
	}
}

func TestGenerateRetriesOnValidationFailure(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			_, _ = w.Write(chatOK(t, `{"oneSentenceSummary":""}`))
			return
		}
		_, _ = w.Write(chatOK(t, validAnswer))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Generate(t.Context(), "body text."); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected 2 requests, got %d", requests)
	}
}

func TestGenerateFallsBackToConceptsTemplate(t *testing.T) {
	t.Parallel()

	var (
		requests  int
		jsonModes []bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		jsonModes = append(jsonModes, req.ResponseFormat != nil)
		// The schema answers never validate; the last request is the
		// concepts re-ask and gets a tagged free-text answer.
		if requests <= 3 {
			_, _ = w.Write(chatOK(t, `{"oneSentenceSummary":""}`))
			return
		}
		_, _ = w.Write(chatOK(t, "1. capitalism: an economic system"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Generate(t.Context(), "body text.")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if requests != 4 {
		t.Fatalf("expected 3 schema attempts plus 1 concepts re-ask, got %d requests", requests)
	}
	if result.OneSentenceSummary != "" {
		t.Fatalf("concepts fallback must not invent a summary, got %q", result.OneSentenceSummary)
	}
	if len(result.Entities) != 1 || result.Entities[0].Name != "capitalism" {
		t.Fatalf("unexpected entities from fallback: %#v", result.Entities)
	}
	if !jsonModes[0] {
		t.Fatal("schema template must request a JSON object answer")
	}
	if jsonModes[3] {
		t.Fatal("concepts template must not force a JSON object answer")
	}
}

func TestGenerateEmptyExtractionIsTerminal(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write(chatOK(t, "the model refuses to answer"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Generate(t.Context(), "body text.")
	if !errors.Is(err, internalerr.ErrEmptyExtraction) {
		t.Fatalf("expected ErrEmptyExtraction, got %v", err)
	}
	if requests != 1 {
		t.Fatalf("empty extraction must not be retried, got %d requests", requests)
	}
}
