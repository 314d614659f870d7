package llm

import (
	"context"
	"fmt"
	"net/url"

	"evalcore/internal/core"
)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (c *Client) generateGemini(ctx context.Context, model string, messages []core.Message, p params) (string, core.TokenUsage, error) {
	if c.geminiKey == "" {
		return "", core.TokenUsage{}, fmt.Errorf("gemini: missing GEMINI_API_KEY")
	}

	var system *geminiContent
	contents := make([]geminiContent, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			if system == nil {
				system = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
			} else {
				system.Parts = append(system.Parts, geminiPart{Text: msg.Content})
			}
		case core.RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}

	body := geminiRequest{
		SystemInstruction: system,
		Contents:          contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     p.temperature,
			TopP:            p.topP,
			MaxOutputTokens: p.maxTokens,
		},
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.geminiBase, url.PathEscape(bareModel(model)), url.QueryEscape(c.geminiKey))
	var parsed geminiResponse
	if err := c.postJSON(ctx, endpoint, nil, body, &parsed); err != nil {
		return "", core.TokenUsage{}, fmt.Errorf("gemini: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", core.TokenUsage{}, fmt.Errorf("gemini: empty candidates in response")
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}
	usage := core.TokenUsage{
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
	}
	return text, usage, nil
}
