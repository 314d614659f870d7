package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"evalcore/internal/core"
)

type openAIRequest struct {
	Model           string         `json:"model"`
	Messages        []core.Message `json:"messages"`
	MaxTokens       int            `json:"max_tokens"`
	Temperature     *float64       `json:"temperature,omitempty"`
	TopP            *float64       `json:"top_p,omitempty"`
	ReasoningEffort string         `json:"reasoning_effort,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *Client) generateOpenAI(ctx context.Context, model string, messages []core.Message, p params) (string, core.TokenUsage, error) {
	if c.openAIKey == "" {
		return "", core.TokenUsage{}, fmt.Errorf("openai: missing OPENAI_API_KEY")
	}
	body := openAIRequest{
		Model:           bareModel(model),
		Messages:        messages,
		MaxTokens:       p.maxTokens,
		Temperature:     p.temperature,
		TopP:            p.topP,
		ReasoningEffort: p.reasoningEffort,
	}
	var parsed openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + c.openAIKey}
	if err := c.postJSON(ctx, c.openAIBase+"/chat/completions", headers, body, &parsed); err != nil {
		return "", core.TokenUsage{}, fmt.Errorf("openai: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", core.TokenUsage{}, fmt.Errorf("openai: empty choices in response")
	}
	msg := parsed.Choices[0].Message
	usage := core.TokenUsage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	return formatReasoning(msg.ReasoningContent, msg.Content), usage, nil
}

// postJSON performs one JSON request/response exchange. Non-2xx statuses are
// surfaced with the response body folded into the error text.
func (c *Client) postJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
