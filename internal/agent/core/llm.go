package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/retry"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultMaxTokens = 4096

// OpenAIProvider implements LLMProvider and Embedder with the openai-go SDK.
type OpenAIProvider struct {
	client         openai.Client
	model          string
	temperature    float64
	embeddingModel string
	retry          retry.Policy
}

// NewOpenAIProvider builds a provider bound to one chat model.
func NewOpenAIProvider(cfg config.LLMProvider, tier config.LLMTier, policy retry.Policy) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("openai api key missing; provide llm.providers.<name>.api_key")
	}
	// retries are owned by the shared policy
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	embedding := cfg.EmbeddingModel
	if embedding == "" {
		embedding = "text-embedding-3-small"
	}
	return &OpenAIProvider{
		client:         openai.NewClient(opts...),
		model:          tier.Model,
		temperature:    tier.Temperature,
		embeddingModel: embedding,
		retry:          policy,
	}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    msgs,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}

	return retry.DoValue(ctx, p.retry, "openai.chat", func(ctx context.Context) (string, error) {
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("openai: empty choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Embed returns one vector per input string.
func (p *OpenAIProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
	}
	return retry.DoValue(ctx, p.retry, "openai.embeddings", func(ctx context.Context) ([][]float32, error) {
		resp, err := p.client.Embeddings.New(ctx, params)
		if err != nil {
			return nil, classifyOpenAIError(err)
		}
		out := make([][]float32, len(resp.Data))
		for _, d := range resp.Data {
			if int(d.Index) >= len(out) {
				continue
			}
			vec := make([]float32, len(d.Embedding))
			for i, v := range d.Embedding {
				vec[i] = float32(v)
			}
			out[d.Index] = vec
		}
		return out, nil
	})
}

// classifyOpenAIError marks client errors other than rate limiting as
// permanent.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return err
		}
		if apiErr.StatusCode >= 400 {
			return retry.Permanent(err)
		}
	}
	return err
}

// AnthropicProvider implements LLMProvider against the Messages API.
type AnthropicProvider struct {
	http        *HTTPClient
	apiKey      string
	baseURL     string
	model       string
	temperature float64
}

func NewAnthropicProvider(cfg config.LLMProvider, tier config.LLMTier, policy retry.Policy) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("anthropic api key missing; provide llm.providers.<name>.api_key")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicProvider{
		http:        NewHTTPClient(timeout, policy, 0),
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       tier.Model,
		temperature: tier.Temperature,
	}, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type request struct {
		Model       string    `json:"model"`
		System      string    `json:"system,omitempty"`
		Messages    []message `json:"messages"`
		MaxTokens   int       `json:"max_tokens"`
		Temperature float64   `json:"temperature"`
	}
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}

	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body := request{
		Model:       p.model,
		System:      req.System,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}
	if err := p.http.DoJSON(ctx, http.MethodPost, p.baseURL+"/v1/messages", headers, body, &resp); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic: empty content")
	}
	return sb.String(), nil
}

// TieredLLM routes completions to a provider by Tier. Requests with no tier
// go to the high tier.
type TieredLLM struct {
	High LLMProvider
	Low  LLMProvider
}

func (t *TieredLLM) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if req.Tier == TierLow && t.Low != nil {
		return t.Low.Complete(ctx, req)
	}
	if t.High == nil {
		return "", fmt.Errorf("no provider configured for tier %q", req.Tier)
	}
	return t.High.Complete(ctx, req)
}
