package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/observability"
	"github.com/ferrebot/ferrebot-backend/internal/pkg/httpx"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/utils"
)

// Tier selects the generation model by cost class. Classification runs
// on cheap, answer drafting on standard, escalation summaries on strong.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierStandard Tier = "standard"
	TierStrong   Tier = "strong"
)

// Client is the model-provider client used by the rest of the backend.
type Client interface {
	// Embed returns one vector per input, index-aligned. Whitespace-only
	// inputs yield a zero vector without an upstream call.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// GenerateText returns a plain completion.
	GenerateText(ctx context.Context, system, user string) (string, error)

	// GenerateJSON returns a structured completion validated against
	// schema. Persistent schema violations surface domain.ErrLLMSchema.
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)

	// WithTier returns a client bound to the given cost tier.
	WithTier(tier Tier) Client

	// EmbedDim reports the configured embedding dimensionality.
	EmbedDim() int

	// Ping verifies provider reachability and credentials.
	Ping(ctx context.Context) error
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	tier       Tier
	models     map[Tier]string
	embedModel string
	embedDim   int
	batchSize  int

	httpClient *http.Client

	embedAttempts   int
	embedBackoff    time.Duration
	embedBackoffMax time.Duration
	schemaAttempts  int

	genTimeout   time.Duration
	embedTimeout time.Duration
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", nil), "/")

	models := map[Tier]string{
		TierCheap:    utils.GetEnv("OPENAI_MODEL_CHEAP", "gpt-4o-mini", nil),
		TierStandard: utils.GetEnv("OPENAI_MODEL_STANDARD", "gpt-4o", nil),
		TierStrong:   utils.GetEnv("OPENAI_MODEL_STRONG", "gpt-4.1", nil),
	}

	return &client{
		log:             log.With("service", "OpenAIClient"),
		baseURL:         baseURL,
		apiKey:          apiKey,
		tier:            TierStandard,
		models:          models,
		embedModel:      utils.GetEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small", nil),
		embedDim:        utils.GetEnvAsInt("EMBED_DIM", 1536, nil),
		batchSize:       utils.GetEnvAsInt("EMBED_BATCH_SIZE", 100, nil),
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		embedAttempts:   utils.GetEnvAsInt("EMBED_MAX_ATTEMPTS", 5, nil),
		embedBackoff:    utils.GetEnvAsDuration("EMBED_BACKOFF_BASE", 500*time.Millisecond, nil),
		embedBackoffMax: utils.GetEnvAsDuration("EMBED_BACKOFF_MAX", 30*time.Second, nil),
		schemaAttempts:  utils.GetEnvAsInt("LLM_SCHEMA_ATTEMPTS", 3, nil),
		genTimeout:      utils.GetEnvAsDuration("LLM_TIMEOUT", 20*time.Second, nil),
		embedTimeout:    utils.GetEnvAsDuration("EMBED_TIMEOUT", 30*time.Second, nil),
	}, nil
}

func (c *client) WithTier(tier Tier) Client {
	if tier == "" || tier == c.tier {
		return c
	}
	clone := *c
	clone.tier = tier
	clone.log = c.log.With("tier", string(tier))
	return &clone
}

func (c *client) EmbedDim() int { return c.embedDim }

func (c *client) model() string {
	if m, ok := c.models[c.tier]; ok && strings.TrimSpace(m) != "" {
		return m
	}
	return c.models[TierStandard]
}

type providerHTTPError struct {
	StatusCode int
	Body       string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *providerHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &providerHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &providerHTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	if len(inputs) == 0 {
		return out, nil
	}

	// Blank inputs get a deterministic zero vector; only the rest go
	// upstream, re-batched to the provider limit.
	type pending struct {
		srcIndex int
		text     string
	}
	var queue []pending
	for i, s := range inputs {
		s = strings.TrimSpace(s)
		if s == "" {
			out[i] = make([]float32, c.embedDim)
			continue
		}
		queue = append(queue, pending{srcIndex: i, text: s})
	}

	for start := 0; start < len(queue); start += c.batchSize {
		end := start + c.batchSize
		if end > len(queue) {
			end = len(queue)
		}
		batch := queue[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.text
		}

		vectors, err := c.embedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		for i, p := range batch {
			out[p.srcIndex] = vectors[i]
		}
	}
	return out, nil
}

func (c *client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := embeddingsRequest{Model: c.embedModel, Input: texts}
	backoff := c.embedBackoff
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.embedAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUpstream, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.embedTimeout)
		resp, raw, err := c.doOnce(callCtx, "/v1/embeddings", req)
		cancel()

		if err == nil {
			var parsed embeddingsResponse
			if uErr := json.Unmarshal(raw, &parsed); uErr != nil {
				return nil, fmt.Errorf("%w: decode embeddings: %w", domain.ErrEmbeddingUpstream, uErr)
			}
			vectors, vErr := alignEmbeddings(parsed, len(texts))
			if vErr != nil {
				lastErr = vErr
			} else {
				if m := observability.Current(); m != nil {
					m.ObserveLLMRequest("embed", "/v1/embeddings", "ok", time.Since(start))
				}
				return vectors, nil
			}
		} else if !httpx.IsRetryableError(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUpstream, err)
		} else {
			lastErr = err
		}

		if attempt == c.embedAttempts {
			break
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, c.embedBackoffMax))
		c.log.Warn("Embedding batch retrying",
			"attempt", attempt,
			"max_attempts", c.embedAttempts,
			"batch_size", len(texts),
			"sleep", sleepFor.String(),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUpstream, ctx.Err())
		case <-time.After(sleepFor):
		}
		backoff *= 2
		if backoff > c.embedBackoffMax {
			backoff = c.embedBackoffMax
		}
	}

	if m := observability.Current(); m != nil {
		m.ObserveLLMRequest("embed", "/v1/embeddings", "failed", time.Since(start))
	}
	return nil, fmt.Errorf("%w: %d attempts exhausted: %w", domain.ErrEmbeddingUpstream, c.embedAttempts, lastErr)
}

func alignEmbeddings(resp embeddingsResponse, want int) ([][]float32, error) {
	out := make([][]float32, want)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= want {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("embeddings response missing index %d (got %d of %d)", i, len(resp.Data), want)
		}
	}
	return out, nil
}

// -------------------- Chat completions --------------------

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
	} `json:"choices"`
}

func newChatRequest(model, system, user string) chatRequest {
	req := chatRequest{Model: model, Temperature: 0.2}
	req.Messages = []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	return req
}

func (c *client) generate(ctx context.Context, req chatRequest) (string, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, c.genTimeout)
	defer cancel()

	resp, raw, err := c.doOnce(callCtx, "/v1/chat/completions", req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if m := observability.Current(); m != nil {
		m.ObserveLLMRequest(string(c.tier), "/v1/chat/completions", status, time.Since(start))
	}
	if err != nil {
		if httpx.IsRetryableError(err) {
			return "", fmt.Errorf("%w: %w", domain.ErrUpstream, err)
		}
		return "", err
	}
	_ = resp

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	choice := parsed.Choices[0].Message
	if strings.TrimSpace(choice.Refusal) != "" {
		return "", fmt.Errorf("model refused: %s", choice.Refusal)
	}
	text := strings.TrimSpace(choice.Content)
	if text == "" {
		return "", errors.New("completion has empty content")
	}

	c.log.Debug("Completion finished",
		"tier", string(c.tier),
		"system_len", len(req.Messages[0].Content),
		"user_len", len(req.Messages[1].Content),
		"output_len", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

func (c *client) GenerateText(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, newChatRequest(c.model(), system, user))
}

func (c *client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if strings.TrimSpace(schemaName) == "" {
		return nil, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, errors.New("schema required")
	}

	req := newChatRequest(c.model(), system, user)
	req.ResponseFormat = map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   schemaName,
			"schema": schema,
			"strict": true,
		},
	}

	var lastErr error
	for attempt := 1; attempt <= c.schemaAttempts; attempt++ {
		text, err := c.generate(ctx, req)
		if err != nil {
			return nil, err
		}

		var obj map[string]any
		if uErr := json.Unmarshal([]byte(text), &obj); uErr != nil {
			lastErr = fmt.Errorf("parse model JSON: %w", uErr)
		} else if vErr := ValidateAgainstSchema(obj, schema); vErr != nil {
			lastErr = vErr
		} else {
			return obj, nil
		}

		c.log.Warn("Structured output failed validation",
			"schema", schemaName,
			"attempt", attempt,
			"max_attempts", c.schemaAttempts,
			"error", lastErr.Error(),
		)
	}
	return nil, fmt.Errorf("%w: schema %s: %w", domain.ErrLLMSchema, schemaName, lastErr)
}
