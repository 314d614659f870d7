package llm

import "strings"

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// providerTable maps unprefixed model names to their provider.
var providerTable = map[string]string{
	"gpt-4o":                     ProviderOpenAI,
	"gpt-4o-mini":                ProviderOpenAI,
	"gpt-4-turbo":                ProviderOpenAI,
	"gpt-3.5-turbo":              ProviderOpenAI,
	"o3-mini":                    ProviderOpenAI,
	"claude-3-5-sonnet-20241022": ProviderAnthropic,
	"claude-3-opus-20240229":     ProviderAnthropic,
	"claude-3-sonnet-20240229":   ProviderAnthropic,
	"claude-3-haiku-20240307":    ProviderAnthropic,
	"gemini-1.5-pro":             ProviderGemini,
	"gemini-1.5-flash":           ProviderGemini,
}

// InferProvider resolves the provider of a model name: an explicit
// openai/ anthropic/ gemini/ prefix wins, then the static table, then
// openai as the default.
func InferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "openai/"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "anthropic/"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gemini/"):
		return ProviderGemini
	}
	if p, ok := providerTable[model]; ok {
		return p
	}
	return ProviderOpenAI
}

// bareModel strips a provider prefix for the wire request; providers expect
// their own model ids.
func bareModel(model string) string {
	for _, prefix := range []string{"openai/", "anthropic/", "gemini/"} {
		if strings.HasPrefix(model, prefix) {
			return strings.TrimPrefix(model, prefix)
		}
	}
	return model
}
