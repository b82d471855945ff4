package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/relaybot/internal/history"
	"github.com/stupiduntilnot/relaybot/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
}

func TestChatCompletion(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-3-5-haiku-latest",
			"stop_reason": "end_turn",
			"content": []map[string]any{
				{"type": "text", "text": "Привет"},
				{"type": "text", "text": ", мир"},
			},
			"usage": map[string]any{"input_tokens": 12, "output_tokens": 5},
		})
	})

	res, err := client.ChatCompletion(context.Background(), model.ChatRequest{
		Model: "claude-3-5-haiku-latest",
		Messages: []history.Message{
			{Role: history.RoleSystem, Content: "be brief"},
			{Role: history.RoleUser, Content: "hi"},
		},
		MaxOutputTokens: 100,
		Temperature:     0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Привет, мир", res.Content)
	assert.Equal(t, 12, res.InputTokens)
	assert.Equal(t, 5, res.OutputTokens)

	assert.Equal(t, "claude-3-5-haiku-latest", body["model"])
	assert.EqualValues(t, 100, body["max_tokens"])
	system := body["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "be brief", system[0].(map[string]any)["text"])
}

func TestChatCompletion_StatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})
	_, err := client.ChatCompletion(context.Background(), model.ChatRequest{Model: "m"})
	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.KindRateLimited, pe.Kind)
	assert.Equal(t, model.Anthropic, pe.Provider)
}

func TestBuildMessagesAlternates(t *testing.T) {
	system, msgs := buildMessages([]history.Message{
		{Role: history.RoleAssistant, Content: "orphan"},
		{Role: history.RoleUser, Content: "a"},
		{Role: history.RoleUser, Content: "b"},
		{Role: history.RoleAssistant, Content: "c"},
		{Role: history.RoleSystem, Content: "s"},
		{Role: history.RoleUser, Content: "d"},
	})
	require.Len(t, system, 1)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "a\n\nb", msgs[0].Content[0].OfText.Text)
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}
