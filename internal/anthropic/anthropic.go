// Package anthropic is the gateway for the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stupiduntilnot/relaybot/internal/history"
	"github.com/stupiduntilnot/relaybot/internal/model"
)

const defaultMaxTokens = 2000

// Config configures the client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client implements model.Provider.
type Client struct {
	client anthropic.Client
}

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
	return &Client{client: anthropic.NewClient(opts...)}
}

// buildMessages splits out system text and shapes the rest into the
// alternating user/assistant sequence the API requires: leading assistant
// turns are dropped and consecutive turns of one role are joined.
func buildMessages(msgs []history.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	type turn struct {
		role  string
		parts []string
	}
	var turns []turn
	for _, m := range msgs {
		if m.Role == history.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue
		}
		role := history.RoleUser
		if m.Role == history.RoleAssistant {
			role = history.RoleAssistant
		}
		if len(turns) == 0 && role == history.RoleAssistant {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].parts = append(turns[n-1].parts, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, parts: []string{m.Content}})
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.parts, "\n\n"))
		if t.role == history.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return system, out
}

func (c *Client) ChatCompletion(ctx context.Context, req model.ChatRequest) (model.CompletionResponse, error) {
	system, messages := buildMessages(req.Messages)
	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return model.CompletionResponse{}, model.StatusError(model.Anthropic, apiErr.StatusCode, http.StatusText(apiErr.StatusCode), err)
		}
		return model.CompletionResponse{}, model.NetworkError(model.Anthropic, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	result := model.CompletionResponse{
		Content:      strings.TrimSpace(b.String()),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	if result.Content == "" {
		result.Content = model.EmptyResponse
	}
	return result, nil
}
