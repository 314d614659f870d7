package llm

import (
	"context"
	"fmt"

	"evalcore/internal/core"
)

const anthropicAPIVersion = "2023-06-01"

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) generateAnthropic(ctx context.Context, model string, messages []core.Message, p params) (string, core.TokenUsage, error) {
	if c.anthropicKey == "" {
		return "", core.TokenUsage{}, fmt.Errorf("anthropic: missing ANTHROPIC_API_KEY")
	}

	// Anthropic takes the system prompt as a top-level field, not a message.
	var system string
	converted := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == core.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += msg.Content
			continue
		}
		converted = append(converted, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body := anthropicRequest{
		Model:       bareModel(model),
		System:      system,
		Messages:    converted,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	headers := map[string]string{
		"x-api-key":         c.anthropicKey,
		"anthropic-version": anthropicAPIVersion,
	}
	var parsed anthropicResponse
	if err := c.postJSON(ctx, c.anthropicBase+"/v1/messages", headers, body, &parsed); err != nil {
		return "", core.TokenUsage{}, fmt.Errorf("anthropic: %w", err)
	}

	var text, thinking string
	for _, block := range parsed.Content {
		switch block.Type {
		case "thinking":
			thinking += block.Thinking
		default:
			text += block.Text
		}
	}
	usage := core.TokenUsage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	return formatReasoning(thinking, text), usage, nil
}
