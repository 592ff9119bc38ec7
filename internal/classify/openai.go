package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (Groq, OpenRouter, a local Ollama).
type OpenAIProvider struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float32
	httpClient  *http.Client
	logger      *zap.Logger
}

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	HTTPClient  *http.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    float32         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger.Info("openai-compatible provider initialized", zap.String("base_url", cfg.BaseURL), zap.String("model", cfg.Model))
	return &OpenAIProvider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  client,
		logger:      logger,
	}, nil
}

func (o *OpenAIProvider) Name() string { return "openai:" + o.model }

func (o *OpenAIProvider) Complete(ctx context.Context, p Prompt) (string, error) {
	reqBody := chatRequest{Model: o.model, Temperature: o.temperature}
	if p.System != "" {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "system", Content: p.System})
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: p.User})
	if p.JSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	res, err := o.httpClient.Do(req)
	if err != nil {
		return "", asError(o.Name(), err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", asError(o.Name(), err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &Error{Kind: KindUnavailable, Provider: o.Name(), Err: fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))}
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{Kind: KindMalformed, Provider: o.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &Error{Kind: KindUnavailable, Provider: o.Name(), Err: errors.New(parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", &Error{Kind: KindMalformed, Provider: o.Name(), Err: errors.New("empty completion")}
	}
	return parsed.Choices[0].Message.Content, nil
}

func (o *OpenAIProvider) Close() error { return nil }
