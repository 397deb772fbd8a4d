package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiliankoe/geotrivia/internal/ai"
)

type Client struct {
	APIKey  string
	BaseURL string
	// Schema, when set, is sent as the response schema and forces a JSON response.
	Schema map[string]any
	http   *http.Client
}

func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &Client{APIKey: apiKey, BaseURL: strings.TrimRight(baseURL, "/"), http: ai.NewHTTPClient()}
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) Complete(ctx context.Context, model string, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, model, "", prompt)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

func (c *Client) CompleteWithSystem(ctx context.Context, model string, systemPrompt string, prompt string) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("missing GEMINI_API_KEY")
	}
	payload := map[string]any{
		"contents": []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	if systemPrompt != "" {
		payload["systemInstruction"] = content{Parts: []part{{Text: systemPrompt}}}
	}
	gen := map[string]any{"responseMimeType": "application/json"}
	if c.Schema != nil {
		gen["responseSchema"] = c.Schema
	}
	payload["generationConfig"] = gen

	var out struct {
		Candidates []struct {
			Content content `json:"content"`
		} `json:"candidates"`
	}
	endpoint := c.BaseURL + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	headers := map[string]string{"x-goog-api-key": c.APIKey}
	if err := ai.PostJSON(ctx, c.http, "gemini", endpoint, headers, payload, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", errors.New("gemini: no candidates")
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

// QuestionSchema describes an array of exactly count quiz questions.
func QuestionSchema(count int) map[string]any {
	return map[string]any{
		"type":     "ARRAY",
		"minItems": count,
		"maxItems": count,
		"items": map[string]any{
			"type":     "OBJECT",
			"required": []string{"question", "options", "correctAnswer", "timeout", "region"},
			"properties": map[string]any{
				"question": map[string]any{"type": "STRING", "description": "Concise question about the region's geopolitical and historical events."},
				"options": map[string]any{
					"type":     "ARRAY",
					"minItems": 4,
					"maxItems": 4,
					"items":    map[string]any{"type": "STRING"},
				},
				"correctAnswer": map[string]any{"type": "INTEGER", "minimum": 0, "maximum": 3, "format": "int32"},
				"timeout":       map[string]any{"type": "INTEGER", "minimum": 7, "maximum": 15, "format": "int32"},
				"region":        map[string]any{"type": "STRING"},
			},
		},
	}
}
