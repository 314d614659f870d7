// Package llm adapts chat-completion providers behind a single Invoker
// contract. Provider faults never surface as Go errors: they are captured
// into the response so the fan-out executor can apply its own retry policy.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"evalcore/internal/core"
)

// Request is a single completion call.
type Request struct {
	Messages        []core.Message
	Model           string
	Temperature     *float64
	MaxTokens       *int
	TopP            *float64
	ReasoningEffort string
}

// Response carries the output and metering of one call. Error is the string
// form of any provider fault; Output is empty and token counts zero in that
// case, while LatencyMS is still measured.
type Response struct {
	Output    string
	Model     string
	Provider  string
	LatencyMS float64
	Tokens    core.TokenUsage
	CostUSD   *float64
	Error     string
}

// Invoker generates one completion. Implementations must not panic and must
// not return transport failures to the caller except through Response.Error.
type Invoker interface {
	Generate(ctx context.Context, req Request) Response
}

// Defaults applied when a knob is absent from both the model config and the
// version defaults.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	DefaultTopP        = 1.0
)

// Client is the HTTP-backed Invoker covering the supported providers.
type Client struct {
	httpClient *http.Client

	openAIKey    string
	anthropicKey string
	geminiKey    string
	defaultModel string
	timeout      time.Duration

	// Base URLs are overridable for tests.
	openAIBase    string
	anthropicBase string
	geminiBase    string
}

// Option mutates a Client during construction.
type Option func(*Client)

// WithBaseURLs points the provider clients at alternate endpoints.
func WithBaseURLs(openai, anthropic, gemini string) Option {
	return func(c *Client) {
		if openai != "" {
			c.openAIBase = openai
		}
		if anthropic != "" {
			c.anthropicBase = anthropic
		}
		if gemini != "" {
			c.geminiBase = gemini
		}
	}
}

// WithHTTPClient swaps the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs an invoker. timeout bounds each individual call; on
// expiry the response carries an error like any other provider fault.
func NewClient(openAIKey, anthropicKey, geminiKey, defaultModel string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		// Per-call deadlines come from context, not the transport.
		httpClient:    &http.Client{Timeout: 0},
		openAIKey:     openAIKey,
		anthropicKey:  anthropicKey,
		geminiKey:     geminiKey,
		defaultModel:  defaultModel,
		timeout:       timeout,
		openAIBase:    "https://api.openai.com/v1",
		anthropicBase: "https://api.anthropic.com",
		geminiBase:    "https://generativelanguage.googleapis.com/v1beta",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// params is the resolved knob set after applying the parameter policy.
type params struct {
	temperature     *float64
	maxTokens       int
	topP            *float64
	reasoningEffort string
}

// resolveParams applies the provider parameter policy:
//   - reasoning_effort set: omit temperature and top_p entirely.
//   - otherwise: include temperature; include top_p only for non-anthropic
//     providers and only when it differs from 1.0.
//   - max_tokens is always passed.
func resolveParams(req Request, provider string) params {
	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	p := params{maxTokens: maxTokens, reasoningEffort: req.ReasoningEffort}
	if req.ReasoningEffort != "" {
		return p
	}
	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	p.temperature = &temperature

	topP := DefaultTopP
	if req.TopP != nil {
		topP = *req.TopP
	}
	if provider != ProviderAnthropic && topP != DefaultTopP {
		p.topP = &topP
	}
	return p
}

// Generate performs one completion call with the configured timeout, routing
// by inferred provider. Latency is measured around the full attempt.
func (c *Client) Generate(ctx context.Context, req Request) Response {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	provider := InferProvider(model)
	p := resolveParams(req, provider)

	start := time.Now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		output string
		usage  core.TokenUsage
		err    error
	)
	switch provider {
	case ProviderAnthropic:
		output, usage, err = c.generateAnthropic(ctx, model, req.Messages, p)
	case ProviderGemini:
		output, usage, err = c.generateGemini(ctx, model, req.Messages, p)
	default:
		output, usage, err = c.generateOpenAI(ctx, model, req.Messages, p)
	}
	latency := float64(time.Since(start)) / float64(time.Millisecond)

	resp := Response{
		Model:     model,
		Provider:  provider,
		LatencyMS: latency,
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Output = output
	resp.Tokens = usage
	resp.CostUSD = core.CostUSD(model, usage)
	return resp
}

// formatReasoning folds a provider's reasoning channel into the output text.
func formatReasoning(reasoning, content string) string {
	if reasoning == "" {
		return content
	}
	return fmt.Sprintf("<thinking>\n%s\n</thinking>\n\n%s", reasoning, content)
}
