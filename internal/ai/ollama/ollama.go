package ollama

import (
	"context"
	"net/http"
	"strings"

	"github.com/kiliankoe/geotrivia/internal/ai"
)

type Client struct {
	Host string
	// JSON constrains the model output to valid JSON.
	JSON bool
	http *http.Client
}

func New(host string) *Client {
	if host == "" {
		host = "http://localhost:11434"
	}
	return &Client{Host: strings.TrimRight(host, "/"), JSON: true, http: ai.NewHTTPClient()}
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) Complete(ctx context.Context, model string, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, model, "", prompt)
}

func (c *Client) CompleteWithSystem(ctx context.Context, model string, systemPrompt string, prompt string) (string, error) {
	messages := []map[string]string{{"role": "user", "content": prompt}}
	if systemPrompt != "" {
		messages = append([]map[string]string{{"role": "system", "content": systemPrompt}}, messages...)
	}
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}
	if c.JSON {
		payload["format"] = "json"
	}
	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := ai.PostJSON(ctx, c.http, "ollama", c.Host+"/api/chat", nil, payload, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Message.Content), nil
}
