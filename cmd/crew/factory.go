package main

import (
	"github.com/ShayCichocki/crewkit/internal/config"
	"github.com/ShayCichocki/crewkit/internal/llm"
	"github.com/ShayCichocki/crewkit/internal/tools"
)

// newFactory builds the backend factory from the app config. Missing keys
// are left empty; backends report them when first used.
func newFactory(cfg *config.Config) *llm.Factory {
	anthropicKey, _ := config.GetAPIKey(cfg, config.ProviderAnthropic)
	geminiKey, _ := config.GetAPIKey(cfg, config.ProviderGemini)
	return llm.NewFactory(llm.FactoryConfig{
		DefaultRef:      cfg.LLM.DefaultModel,
		AnthropicAPIKey: anthropicKey,
		AnthropicURL:    cfg.LLM.AnthropicBaseURL,
		GeminiAPIKey:    geminiKey,
		OllamaHost:      cfg.LLM.OllamaHost,
		AWSRegion:       cfg.LLM.AWSRegion,
		AWSProfile:      cfg.LLM.AWSProfile,
	})
}

// builtinTools registers the built-in tools rooted at the crew directory.
func builtinTools(cfg *config.Config, dir string) (*tools.Registry, error) {
	serpKey, _ := config.GetAPIKey(cfg, config.ProviderSerpAPI)
	return tools.Builtin(tools.Config{
		SerpAPIKey: serpKey,
		WorkDir:    dir,
	})
}
