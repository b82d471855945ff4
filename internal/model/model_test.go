package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	tests := map[int]ErrorKind{
		401: KindUnauthorized,
		403: KindUnauthorized,
		402: KindUnauthorized,
		429: KindRateLimited,
		400: KindBadRequest,
		404: KindBadRequest,
		408: KindNetworkFailure,
		500: KindServerError,
		503: KindServerError,
		0:   KindNetworkFailure,
	}
	for status, want := range tests {
		assert.Equal(t, want, KindForStatus(status), "status %d", status)
	}
}

func TestProviderErrorWrapping(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("call: %w", StatusError(OpenRouter, 503, "overloaded", base))

	assert.Equal(t, KindServerError, KindOf(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "openrouter: server_error (status 503): overloaded")

	assert.False(t, IsRetryable(StatusError(OpenAI, 401, "", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestNetworkErrorTimeout(t *testing.T) {
	err := NetworkError(Anthropic, context.DeadlineExceeded)
	assert.Equal(t, KindNetworkFailure, err.Kind)
	assert.Equal(t, "request timed out", err.Detail)
	assert.True(t, IsRetryable(err))

	assert.False(t, IsRetryable(NetworkError(Anthropic, context.Canceled)))
}

func TestParseProviderID(t *testing.T) {
	id, err := ParseProviderID(" OpenRouter ")
	require.NoError(t, err)
	assert.Equal(t, OpenRouter, id)

	_, err = ParseProviderID("bedrock")
	assert.Error(t, err)
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	s, ok := c.Lookup("deepseek")
	require.True(t, ok)
	assert.Equal(t, OpenRouter, s.Provider)
	assert.Equal(t, "deepseek/deepseek-chat-v3.1:free", s.ID)
	assert.True(t, s.Free)

	s, ok = c.Lookup("QWEN3_HIGHLIGHTS")
	require.True(t, ok)
	assert.Equal(t, []string{"qwen3_highlights", "total"}, s.Tiers)

	_, ok = c.Lookup("nope")
	assert.False(t, ok)

	assert.Len(t, c.ForProvider(Friendli), 3)
	assert.Equal(t, "deepseek", c.List()[0].Alias)
}

func TestNewCatalogRejectsInvalid(t *testing.T) {
	_, err := NewCatalog(ModelSpec{Alias: "x", Provider: "bedrock", ID: "m"})
	assert.Error(t, err)

	_, err = NewCatalog(
		ModelSpec{Alias: "x", Provider: Dummy, ID: "m"},
		ModelSpec{Alias: "x", Provider: Dummy, ID: "n"},
	)
	assert.Error(t, err)

	_, err = NewCatalog(ModelSpec{Alias: "x", Provider: Dummy})
	assert.Error(t, err)
}

func TestValidateTiersAndRestrict(t *testing.T) {
	c := DefaultCatalog()
	known := map[ProviderID]map[string]bool{
		OpenRouter: {"free": true, "paid": true},
		Friendli:   {"qwen3_highlights": true},
		OpenAI:     {"paid": true},
		Anthropic:  {"paid": true},
	}
	err := c.ValidateTiers(func(p ProviderID, tier string) bool { return known[p][tier] })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qwen3 -> friendli/total")

	onlyOpenRouter := c.Restrict(func(p ProviderID) bool { return p == OpenRouter })
	assert.NoError(t, onlyOpenRouter.ValidateTiers(func(p ProviderID, tier string) bool { return known[p][tier] }))
	_, ok := onlyOpenRouter.Lookup("qwen3")
	assert.False(t, ok)
}
