package core

import (
	_ "embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var pricingYAML []byte

type modelPrice struct {
	// USD per 1000 tokens.
	Prompt     float64 `yaml:"prompt"`
	Completion float64 `yaml:"completion"`
}

type pricingTable struct {
	Models map[string]modelPrice `yaml:"models"`
}

var (
	pricingOnce sync.Once
	pricing     pricingTable
)

func loadPricing() pricingTable {
	pricingOnce.Do(func() {
		if err := yaml.Unmarshal(pricingYAML, &pricing); err != nil {
			pricing = pricingTable{}
		}
	})
	return pricing
}

// CostUSD computes the dollar cost of a call from the static pricing table.
// Models absent from the table yield nil; callers store nil as an unknown
// cost rather than zero.
func CostUSD(model string, usage TokenUsage) *float64 {
	table := loadPricing()
	price, ok := table.Models[model]
	if !ok {
		// Provider-prefixed names fall back to the bare model id.
		if idx := strings.LastIndex(model, "/"); idx >= 0 {
			price, ok = table.Models[model[idx+1:]]
		}
	}
	if !ok {
		return nil
	}
	cost := price.Prompt*float64(usage.PromptTokens)/1000 + price.Completion*float64(usage.CompletionTokens)/1000
	return &cost
}
