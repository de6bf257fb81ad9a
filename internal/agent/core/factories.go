package core

import (
	"fmt"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/retry"
)

// NewLLMProvider builds the tier router from configuration.
func NewLLMProvider(cfg config.LLMConfig, policy retry.Policy) (*TieredLLM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	high, err := newTierProvider(cfg, cfg.Tiers.High, policy)
	if err != nil {
		return nil, fmt.Errorf("high tier: %w", err)
	}
	low, err := newTierProvider(cfg, cfg.Tiers.Low, policy)
	if err != nil {
		return nil, fmt.Errorf("low tier: %w", err)
	}
	return &TieredLLM{High: high, Low: low}, nil
}

func newTierProvider(cfg config.LLMConfig, tier config.LLMTier, policy retry.Policy) (LLMProvider, error) {
	p := cfg.Providers[tier.Provider]
	switch p.Type {
	case "openai":
		return NewOpenAIProvider(p, tier, policy)
	case "anthropic":
		return NewAnthropicProvider(p, tier, policy)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
	}
}

// NewEmbedder returns an embedder from the first openai provider, or nil when
// none is configured.
func NewEmbedder(cfg config.LLMConfig, policy retry.Policy) (Embedder, error) {
	for _, name := range []string{cfg.Tiers.High.Provider, cfg.Tiers.Low.Provider} {
		if p, ok := cfg.Providers[name]; ok && p.Type == "openai" {
			return NewOpenAIProvider(p, config.LLMTier{}, policy)
		}
	}
	for _, p := range cfg.Providers {
		if p.Type == "openai" {
			return NewOpenAIProvider(p, config.LLMTier{}, policy)
		}
	}
	return nil, nil
}

// NewSearchProvider creates the configured web search provider.
func NewSearchProvider(cfg config.WebSearchConfig, policy retry.Policy) (SearchProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	httpc := NewHTTPClient(cfg.Timeout, policy, cfg.RequestsPerSecond)
	switch cfg.Provider {
	case "serper":
		return NewSerperClient(cfg, httpc), nil
	case "brave":
		return NewBraveClient(cfg, httpc), nil
	default:
		return NewTavilyClient(cfg, httpc), nil
	}
}
