package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/stupiduntilnot/relaybot/internal/config"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/dummy"
	"github.com/stupiduntilnot/relaybot/internal/model"
	"github.com/stupiduntilnot/relaybot/internal/openai"
	"github.com/stupiduntilnot/relaybot/internal/telegram"
)

func dummyConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Commander = "dummy"
	cfg.DBPath = filepath.Join(t.TempDir(), "relaybot.db")
	cfg.DefaultModel = "dummy"
	cfg.History.Backend = "sqlite"
	cfg.Dummy = config.DummyConfig{
		ProviderScript:  "echo",
		CommanderScript: "msg:привет,sleep:60000",
		SendScript:      "ok",
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewProviders(t *testing.T) {
	cfg := config.Default()
	cfg.EnableDummy = true
	cfg.APIKeys = map[model.ProviderID]string{
		model.OpenRouter: "or",
		model.Friendli:   "fr",
		model.OpenAI:     "oa",
		model.Anthropic:  "an",
	}
	providers, images, err := newProviders(cfg)
	require.NoError(t, err)
	assert.Len(t, providers, 5)
	assert.IsType(t, &openai.Client{}, images)
	assert.Equal(t, model.OpenAI, imageProviderID(images))

	cfg.APIKeys = nil
	providers, images, err = newProviders(cfg)
	require.NoError(t, err)
	assert.Len(t, providers, 1)
	assert.IsType(t, &dummy.Provider{}, images)
	assert.Equal(t, model.Dummy, imageProviderID(images))

	cfg.EnableDummy = false
	_, _, err = newProviders(cfg)
	assert.ErrorContains(t, err, "no provider enabled")
}

func TestNewCommander(t *testing.T) {
	cfg := config.Default()
	cfg.TelegramToken = "123:abc"
	c, err := newCommander(cfg)
	require.NoError(t, err)
	assert.IsType(t, &telegram.Client{}, c)

	cfg.Commander = "dummy"
	c, err = newCommander(cfg)
	require.NoError(t, err)
	assert.IsType(t, &dummy.Commander{}, c)

	cfg.Commander = "irc"
	_, err = newCommander(cfg)
	assert.ErrorContains(t, err, "unsupported commander")
}

func TestNewBotRejectsUnavailableDefaultModel(t *testing.T) {
	cfg := dummyConfig(t)
	cfg.DefaultModel = "deepseek"
	database, err := db.OpenDB(db.MemoryPath)
	require.NoError(t, err)
	defer database.Close()

	_, err = newBot(cfg, database, nil, zaptest.NewLogger(t), 0)
	assert.ErrorContains(t, err, `default model "deepseek" is not available`)
}

func TestServeRelaysDummyMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := dummyConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg, zaptest.NewLogger(t)) }()

	countEvents := func(typ string) int {
		database, err := db.OpenDB(cfg.DBPath)
		require.NoError(t, err)
		defer database.Close()
		var n int
		if err := database.QueryRow(`SELECT COUNT(*) FROM events WHERE event_type = ?`, typ).Scan(&n); err != nil {
			return 0
		}
		return n
	}
	require.Eventually(t, func() bool { return countEvents(db.EventReplySent) == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	database, err := db.OpenDB(cfg.DBPath)
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, 1, countEvents(db.EventProcessStopped))
	var status string
	require.NoError(t, database.QueryRow(`SELECT status FROM inbox WHERE update_id = 2`).Scan(&status))
	assert.Equal(t, db.InboxDone, status)

	var turns int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM history WHERE chat_id = 1`).Scan(&turns))
	assert.Equal(t, 2, turns)
}
