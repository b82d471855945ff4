package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/relaybot/internal/anthropic"
	"github.com/stupiduntilnot/relaybot/internal/cache"
	"github.com/stupiduntilnot/relaybot/internal/chunk"
	"github.com/stupiduntilnot/relaybot/internal/clock"
	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	"github.com/stupiduntilnot/relaybot/internal/config"
	"github.com/stupiduntilnot/relaybot/internal/control"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/dummy"
	"github.com/stupiduntilnot/relaybot/internal/history"
	"github.com/stupiduntilnot/relaybot/internal/model"
	"github.com/stupiduntilnot/relaybot/internal/openai"
	"github.com/stupiduntilnot/relaybot/internal/pipeline"
	"github.com/stupiduntilnot/relaybot/internal/ratelimit"
	"github.com/stupiduntilnot/relaybot/internal/session"
	"github.com/stupiduntilnot/relaybot/internal/telegram"
	"github.com/stupiduntilnot/relaybot/internal/usage"
)

// processRole tags process.started events so the events command can find
// the latest run.
const processRole = "relaybot"

const imageTier = "images"

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, c.logger)
		},
	}
}

// serve runs the bot until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.InitSchema(database); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	events := &db.EventLog{DB: database}
	providers := make([]string, 0, len(model.Providers))
	for _, p := range cfg.EnabledProviders() {
		providers = append(providers, string(p))
	}
	startedID, err := events.Log(nil, db.EventProcessStarted, map[string]any{
		"role":          processRole,
		"pid":           os.Getpid(),
		"commander":     cfg.Commander,
		"providers":     providers,
		"default_model": cfg.DefaultModel,
		"version":       version,
	})
	if err != nil {
		logger.Warn("failed to log process.started", zap.Error(err))
	}

	b, err := newBot(cfg, database, events, logger, startedID)
	if err != nil {
		return err
	}
	logger.Info("relaybot started",
		zap.String("commander", cfg.Commander),
		zap.Strings("providers", providers),
		zap.String("default_model", cfg.DefaultModel),
		zap.String("history", cfg.History.Backend),
	)

	runErr := b.runner.Run(ctx)
	reason := "signal"
	if runErr != nil {
		reason = runErr.Error()
	}
	if _, err := events.Log(&startedID, db.EventProcessStopped, map[string]any{"role": processRole, "reason": reason}); err != nil {
		logger.Warn("failed to log process.stopped", zap.Error(err))
	}
	logger.Info("relaybot stopped", zap.String("reason", reason))
	return runErr
}

// bot is the wired process.
type bot struct {
	commander cmdpkg.Commander
	handler   *pipeline.Handler
	runner    *pipeline.Runner
	usage     *usage.Accounting
}

func newBot(cfg config.Config, database *sql.DB, events pipeline.EventLogger, logger *zap.Logger, parentEventID int64) (*bot, error) {
	commander, err := newCommander(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init commander: %w", err)
	}
	providers, images, err := newProviders(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init providers: %w", err)
	}

	catalog := cfg.Catalog()
	defaultSpec, ok := catalog.Lookup(cfg.DefaultModel)
	if !ok {
		return nil, fmt.Errorf("default model %q is not available", cfg.DefaultModel)
	}

	var store history.Store
	switch cfg.History.Backend {
	case "sqlite":
		store = history.NewSQLiteStore(database, cfg.History.Retention)
	default:
		store = history.NewMemoryStore(cfg.History.Retention)
	}

	scopes, err := cfg.UsageScopes()
	if err != nil {
		return nil, err
	}
	clk := clock.Real()
	acct := usage.New(clk, scopes...)

	var imageScope string
	if images != nil {
		imageScope = string(imageProviderID(images))
	}

	handler, err := pipeline.New(pipeline.Deps{
		Channel:   commander,
		Providers: providers,
		Images:    images,
		Catalog:   catalog,
		Sessions:  session.NewMemoryStore(session.Defaults{Provider: defaultSpec.Provider, Model: defaultSpec.Alias}, clk),
		History:   store,
		Limiter:   ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, clk),
		Cache:     cache.New[pipeline.CacheKey, string](cfg.Cache.MaxSize, cfg.Cache.TTL, clk),
		Usage:     acct,
		Breakers:  control.NewBreakers(cfg.Circuit.Threshold, cfg.Circuit.Cooldown),
		Events:    events,
		Logger:    logger,
		Clock:     clk,
	}, pipeline.Settings{
		SystemPrompt:   cfg.SystemPrompt,
		HistoryContext: cfg.History.Context,
		Policy:         cfg.Policy(),
		Chunk: chunk.Options{
			MaxLength:  cfg.MaxMessageLength,
			Reserve:    cfg.ChunkReserve,
			SubReserve: cfg.ChunkSubReserve,
		},
		MaxOutputTokens: cfg.Provider.MaxOutputTokens,
		Temperature:     cfg.Provider.Temperature,
		ImageScope:      imageScope,
		ImageTier:       imageTier,
		ParentEventID:   parentEventID,
	})
	if err != nil {
		return nil, err
	}

	return &bot{
		commander: commander,
		handler:   handler,
		usage:     acct,
		runner: &pipeline.Runner{
			Source:        commander,
			Handler:       handler,
			DB:            database,
			Events:        events,
			Logger:        logger,
			PollTimeout:   cfg.Telegram.PollTimeout,
			MaxInFlight:   cfg.MaxInFlight,
			ParentEventID: parentEventID,
		},
	}, nil
}

func newCommander(cfg config.Config) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		// The HTTP timeout must outlast the long-poll.
		timeout := cfg.Telegram.RequestTimeout + time.Duration(cfg.Telegram.PollTimeout)*time.Second
		return telegram.NewClient(telegram.APIBase(cfg.Telegram.Endpoint, cfg.TelegramToken), timeout), nil
	case "dummy":
		return dummy.NewCommander(cfg.Dummy.CommanderScript, cfg.Dummy.SendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

// newProviders builds a gateway per enabled provider. The image generator
// is the OpenAI client when configured, else the dummy provider.
func newProviders(cfg config.Config) (map[model.ProviderID]model.Provider, model.ImageProvider, error) {
	out := make(map[model.ProviderID]model.Provider)
	var images model.ImageProvider
	for _, p := range cfg.EnabledProviders() {
		key := cfg.APIKeys[p]
		switch p {
		case model.OpenRouter:
			out[p] = openai.NewClient(openai.Config{
				Provider: p,
				APIKey:   key,
				BaseURL:  openai.OpenRouterBaseURL,
				Timeout:  cfg.Provider.Timeout,
				Headers:  map[string]string{"X-Title": "relaybot"},
			})
		case model.Friendli:
			out[p] = openai.NewClient(openai.Config{
				Provider: p,
				APIKey:   key,
				BaseURL:  openai.FriendliBaseURL,
				Timeout:  cfg.Provider.Timeout,
			})
		case model.OpenAI:
			c := openai.NewClient(openai.Config{
				Provider:   p,
				APIKey:     key,
				BaseURL:    openai.OpenAIBaseURL,
				Timeout:    cfg.Provider.Timeout,
				ImageModel: cfg.ImageModel,
			})
			out[p] = c
			images = c
		case model.Anthropic:
			out[p] = anthropic.NewClient(anthropic.Config{APIKey: key, Timeout: cfg.Provider.Timeout})
		case model.Dummy:
			d, err := dummy.NewProvider("dummy", cfg.Dummy.ProviderScript)
			if err != nil {
				return nil, nil, err
			}
			out[p] = d
			if images == nil {
				images = d
			}
		}
	}
	if len(out) == 0 {
		return nil, nil, fmt.Errorf("no provider enabled")
	}
	return out, images, nil
}

func imageProviderID(p model.ImageProvider) model.ProviderID {
	if _, ok := p.(*dummy.Provider); ok {
		return model.Dummy
	}
	return model.OpenAI
}
