// Package openai is the gateway for OpenAI-compatible chat APIs: OpenAI
// itself, OpenRouter and Friendli dedicated endpoints.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/stupiduntilnot/relaybot/internal/history"
	"github.com/stupiduntilnot/relaybot/internal/model"
)

// Default base URLs.
const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	FriendliBaseURL   = "https://api.friendli.ai/dedicated/v1"
)

// Config configures one OpenAI-compatible endpoint.
type Config struct {
	Provider model.ProviderID
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	// Headers are sent with every request, e.g. OpenRouter's HTTP-Referer
	// and X-Title attribution headers.
	Headers    map[string]string
	ImageModel string
	HTTPClient *http.Client
}

// Client implements model.Provider and model.ImageProvider.
type Client struct {
	provider   model.ProviderID
	client     openai.Client
	imageModel string
}

// NewClient creates a gateway. Retries are left to the caller's policy.
func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	for k, v := range cfg.Headers {
		if v != "" {
			opts = append(opts, option.WithHeader(k, v))
		}
	}
	provider := cfg.Provider
	if provider == "" {
		provider = model.OpenAI
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = string(openai.ImageModelDallE3)
	}
	return &Client{
		provider:   provider,
		client:     openai.NewClient(opts...),
		imageModel: imageModel,
	}
}

func buildMessages(msgs []history.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case history.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case history.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// ChatCompletion sends a chat completion request and returns a CompletionResponse.
func (c *Client) ChatCompletion(ctx context.Context, req model.ChatRequest) (model.CompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: buildMessages(req.Messages),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.CompletionResponse{}, c.mapError(err)
	}

	result := model.CompletionResponse{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) == 0 {
		result.Content = model.EmptyResponse
		return result, nil
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		result.Content = model.EmptyResponse
		return result, nil
	}
	result.Content = content
	return result, nil
}

// GenerateImage requests one base64-encoded image and returns its bytes.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(c.imageModel),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, c.mapError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &model.ProviderError{Provider: c.provider, Kind: model.KindServerError, Detail: "no image data in response"}
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &model.ProviderError{Provider: c.provider, Kind: model.KindServerError, Detail: "invalid image encoding", Err: err}
	}
	return data, nil
}

func (c *Client) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		if detail == "" {
			detail = http.StatusText(apiErr.StatusCode)
		}
		return model.StatusError(c.provider, apiErr.StatusCode, detail, err)
	}
	return model.NetworkError(c.provider, err)
}
