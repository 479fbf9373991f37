// Package openrouter is a minimal client for OpenRouter's OpenAI-compatible
// chat completion endpoint, used for structured website analysis.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"mediaplan/backend/internal/config"
)

const (
	maxErrorBodyBytes    = 8 * 1024
	maxResponseBodyBytes = 1 << 20
)

var (
	ErrMissingAPIKey = errors.New("openrouter api key is not configured")
	ErrEmptyResponse = errors.New("openrouter returned no content")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	CostMicrosUSD    *int `json:"costMicrosUsd,omitempty"`
}

type CompletionRequest struct {
	Model       string
	Messages    []Message
	JSONMode    bool
	Temperature *float64
}

type Completion struct {
	Model   string
	Content string
	Usage   Usage
}

type completionAPIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// APIError is a non-2xx answer from OpenRouter.
type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("openrouter returned %d: %s", e.StatusCode, e.Body)
}

func (e APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type Client struct {
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:       strings.TrimSpace(cfg.OpenRouterAPIKey),
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/"),
		defaultModel: strings.TrimSpace(cfg.OpenRouterModel),
		httpClient:   httpClient,
	}
}

func (c Client) Configured() bool {
	return c.apiKey != ""
}

// Complete sends a single non-streaming chat completion. With JSONMode set
// the model is asked for a JSON object; the caller still has to validate it.
func (c Client) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	ctx, span := otel.Tracer("openrouter/Client").Start(ctx, "Complete")
	defer span.End()

	if c.apiKey == "" {
		return Completion{}, ErrMissingAPIKey
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return Completion{}, errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return Completion{}, errors.New("messages are required")
	}
	span.SetAttributes(attribute.String("openrouter.model", model), attribute.Bool("openrouter.json_mode", req.JSONMode))

	apiReq := completionAPIRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(apiReq)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return Completion{}, fmt.Errorf("request openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		span.RecordError(apiErr)
		return Completion{}, apiErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return Completion{}, fmt.Errorf("read openrouter response: %w", err)
	}
	return parseCompletion(body, model)
}

func parseCompletion(body []byte, requestedModel string) (Completion, error) {
	if !gjson.ValidBytes(body) {
		return Completion{}, errors.New("decode openrouter response: invalid json")
	}
	parsed := gjson.ParseBytes(body)

	// OpenRouter reports some provider failures inside a 200 body.
	if msg := strings.TrimSpace(parsed.Get("error.message").String()); msg != "" {
		return Completion{}, errors.New(msg)
	}

	content := strings.TrimSpace(parsed.Get("choices.0.message.content").String())
	if content == "" {
		return Completion{}, ErrEmptyResponse
	}

	model := parsed.Get("model").String()
	if model == "" {
		model = requestedModel
	}

	usage := Usage{
		PromptTokens:     int(parsed.Get("usage.prompt_tokens").Int()),
		CompletionTokens: int(parsed.Get("usage.completion_tokens").Int()),
		TotalTokens:      int(parsed.Get("usage.total_tokens").Int()),
	}
	if cost := parsed.Get("usage.cost"); cost.Exists() && cost.Type != gjson.Null {
		micros := priceStringToMicros(cost.String())
		usage.CostMicrosUSD = &micros
	}

	return Completion{Model: model, Content: content, Usage: usage}, nil
}

func priceStringToMicros(raw string) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}

	if floatValue, err := strconv.ParseFloat(trimmed, 64); err == nil {
		if floatValue < 0 {
			return 0
		}
		return int(math.Round(floatValue * 1_000_000))
	}

	rat := new(big.Rat)
	if _, ok := rat.SetString(trimmed); !ok {
		return 0
	}
	if rat.Sign() < 0 {
		return 0
	}

	rat.Mul(rat, big.NewRat(1_000_000, 1))
	value, _ := rat.Float64()
	return int(math.Round(value))
}
