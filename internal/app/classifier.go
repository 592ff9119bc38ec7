package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"idealine/internal/classify"
	"idealine/internal/config"
)

const defaultGeminiKeyEnv = "GEMINI_API_KEY"

// BuildClassifier assembles the configured providers into a fallback chain
// behind a retrying adapter. Providers that cannot be built are skipped with a
// warning; with none left the adapter reports every call as unavailable.
func BuildClassifier(ctx context.Context, cfg config.ClassifierConfig, getenv func(string) string, logger *zap.Logger) *classify.Adapter {
	var providers []classify.Provider
	for i, pc := range cfg.Providers {
		p, err := buildProvider(ctx, pc, getenv, logger)
		if err != nil {
			logger.Warn("classifier provider skipped", zap.Int("index", i), zap.String("type", pc.Type), zap.Error(err))
			continue
		}
		providers = append(providers, p)
	}
	var provider classify.Provider
	switch len(providers) {
	case 0:
		logger.Warn("no classifier provider available; captures will stay in captured")
	case 1:
		provider = providers[0]
	default:
		provider = classify.Chain{Providers: providers, Logger: logger}
	}
	return classify.NewAdapter(provider, cfg, logger)
}

func buildProvider(ctx context.Context, pc config.ProviderConfig, getenv func(string) string, logger *zap.Logger) (classify.Provider, error) {
	keyEnv := strings.TrimSpace(pc.APIKeyEnv)
	switch pc.Type {
	case config.ProviderGemini:
		if keyEnv == "" {
			keyEnv = defaultGeminiKeyEnv
		}
		return classify.NewGemini(ctx, classify.GeminiConfig{
			APIKey:      getenv(keyEnv),
			Model:       pc.Model,
			Temperature: pc.Temperature,
		}, logger)
	default:
		var key string
		if keyEnv != "" {
			key = getenv(keyEnv)
		}
		return classify.NewOpenAI(classify.OpenAIConfig{
			BaseURL:     pc.BaseURL,
			APIKey:      key,
			Model:       pc.Model,
			Temperature: pc.Temperature,
		}, logger)
	}
}
