package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"mediaplan/backend/internal/openrouter"
)

// Responder answers one prompt with a JSON document.
type Responder interface {
	Respond(ctx context.Context, system, prompt string) (string, error)
}

const analysisSystemPrompt = `You classify small businesses for a marketing planner.
Reply with one JSON object and nothing else:
{"industry": string, "products": [string], "target_audience": string, "competitors": [string]}
"industry" is a short plain label such as "bakery", "dental clinic" or "b2b software".
Use an empty string or empty list when the evidence does not say.`

// findings is the structured answer pulled out of a responder reply.
type findings struct {
	Industry    string
	Products    []string
	Audience    string
	Competitors []string
}

// parseFindings reads the reply leniently: surrounding prose and markdown
// fences are ignored, and the first JSON object is used.
func parseFindings(raw string) (findings, bool) {
	body := strings.TrimSpace(raw)
	if start := strings.Index(body, "{"); start >= 0 {
		if end := strings.LastIndex(body, "}"); end > start {
			body = body[start : end+1]
		}
	}
	if !gjson.Valid(body) {
		return findings{}, false
	}
	parsed := gjson.Parse(body)
	out := findings{
		Industry:    strings.TrimSpace(parsed.Get("industry").String()),
		Audience:    strings.TrimSpace(firstString(parsed, "target_audience", "audience")),
		Products:    stringList(parsed.Get("products")),
		Competitors: stringList(parsed.Get("competitors")),
	}
	return out, out.Industry != ""
}

func firstString(parsed gjson.Result, paths ...string) string {
	for _, path := range paths {
		if value := parsed.Get(path); value.Exists() {
			return value.String()
		}
	}
	return ""
}

func stringList(value gjson.Result) []string {
	if !value.IsArray() {
		if s := strings.TrimSpace(value.String()); s != "" && value.Type == gjson.String {
			return []string{s}
		}
		return nil
	}
	var out []string
	value.ForEach(func(_, item gjson.Result) bool {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
		return len(out) < maxListItems
	})
	return out
}

// OpenRouterResponder asks an OpenRouter model in JSON mode.
type OpenRouterResponder struct {
	client openrouter.Client
	model  string
}

func NewOpenRouterResponder(client openrouter.Client, model string) *OpenRouterResponder {
	return &OpenRouterResponder{client: client, model: model}
}

func (r *OpenRouterResponder) Respond(ctx context.Context, system, prompt string) (string, error) {
	temperature := 0.0
	completion, err := r.client.Complete(ctx, openrouter.CompletionRequest{
		Model: r.model,
		Messages: []openrouter.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		JSONMode:    true,
		Temperature: &temperature,
	})
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

// GeminiResponder asks a Gemini model for an application/json reply.
type GeminiResponder struct {
	client *genai.Client
	model  string
}

func NewGeminiResponder(ctx context.Context, apiKey, model string) (*GeminiResponder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiResponder{client: client, model: model}, nil
}

func (r *GeminiResponder) Respond(ctx context.Context, system, prompt string) (string, error) {
	thinkingBudget := int32(0)
	temperature := float32(0)
	resp, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	})
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini returned no content")
	}
	return text, nil
}
