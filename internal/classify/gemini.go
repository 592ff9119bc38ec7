package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider completes prompts with the Gemini API.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	logger.Info("gemini provider initialized", zap.String("model", cfg.Model))
	return &GeminiProvider{client: client, model: cfg.Model, temperature: cfg.Temperature, logger: logger}, nil
}

func (g *GeminiProvider) Name() string { return "gemini:" + g.model }

func (g *GeminiProvider) Complete(ctx context.Context, p Prompt) (string, error) {
	model := g.client.GenerativeModel(g.model)
	if p.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	}
	if p.JSON {
		model.ResponseMIMEType = "application/json"
	}
	if g.temperature > 0 {
		model.GenerationConfig.Temperature = genai.Ptr[float32](g.temperature)
	}
	resp, err := model.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", asError(g.Name(), err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &Error{Kind: KindMalformed, Provider: g.Name(), Err: errors.New("empty response")}
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", &Error{Kind: KindMalformed, Provider: g.Name(), Err: errors.New("response has no text parts")}
	}
	return sb.String(), nil
}

func (g *GeminiProvider) Close() error {
	return g.client.Close()
}
