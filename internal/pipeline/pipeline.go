// Package pipeline turns inbound chat updates into provider calls and
// delivers the replies.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/relaybot/internal/cache"
	"github.com/stupiduntilnot/relaybot/internal/chunk"
	"github.com/stupiduntilnot/relaybot/internal/classify"
	"github.com/stupiduntilnot/relaybot/internal/clock"
	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	"github.com/stupiduntilnot/relaybot/internal/control"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/format"
	"github.com/stupiduntilnot/relaybot/internal/history"
	"github.com/stupiduntilnot/relaybot/internal/model"
	"github.com/stupiduntilnot/relaybot/internal/ratelimit"
	"github.com/stupiduntilnot/relaybot/internal/session"
	"github.com/stupiduntilnot/relaybot/internal/textnorm"
	"github.com/stupiduntilnot/relaybot/internal/usage"
)

// EventLogger records audit events. db.EventLog implements it.
type EventLogger interface {
	Log(parentID *int64, eventType string, payload map[string]any) (int64, error)
}

// CacheKey identifies a cached reply. Context is a digest of the history
// sent with the prompt, so replies are only shared between identical
// conversations.
type CacheKey struct {
	Model   string
	Prompt  string
	Context string
}

func contextDigest(msgs []history.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	h := sha256.New()
	for _, m := range msgs {
		fmt.Fprintf(h, "%s\x00%d\x00%s\x00", m.Role, len(m.Content), m.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Deps are the collaborators of a Handler. Events, Images and Cache are
// optional.
type Deps struct {
	Channel    cmdpkg.DeliveryChannel
	Providers  map[model.ProviderID]model.Provider
	Images     model.ImageProvider
	Catalog    *model.Catalog
	Sessions   session.Store
	History    history.Store
	Limiter    *ratelimit.Limiter
	Cache      *cache.Cache[CacheKey, string]
	Usage      *usage.Accounting
	Breakers   *control.Breakers
	Classifier *classify.Classifier
	Events     EventLogger
	Logger     *zap.Logger
	Clock      clock.Clock
}

// Settings are the per-process tunables of a Handler.
type Settings struct {
	SystemPrompt    string
	HistoryContext  int
	Policy          control.Policy
	Chunk           chunk.Options
	MaxOutputTokens int
	Temperature     float64
	// ImageScope and ImageTier are charged for /image when the tier exists.
	ImageScope string
	ImageTier  string
	// ParentEventID is the process.started event that message events hang
	// off, or 0.
	ParentEventID int64
}

// Handler processes one update at a time; it is safe for concurrent use.
type Handler struct {
	deps      Deps
	settings  Settings
	assembler history.Assembler
}

func New(deps Deps, settings Settings) (*Handler, error) {
	switch {
	case deps.Channel == nil:
		return nil, errors.New("pipeline: delivery channel is required")
	case deps.Catalog == nil:
		return nil, errors.New("pipeline: model catalog is required")
	case deps.Sessions == nil || deps.History == nil:
		return nil, errors.New("pipeline: session and history stores are required")
	case deps.Limiter == nil || deps.Usage == nil || deps.Breakers == nil:
		return nil, errors.New("pipeline: limiter, usage and breakers are required")
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.Default()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	return &Handler{deps: deps, settings: settings, assembler: &history.StandardAssembler{}}, nil
}

// run carries per-update correlation state.
type run struct {
	id      string
	chatID  int64
	userID  int64
	eventID int64
	name    string
	log     *zap.Logger
}

// HandleUpdate processes one update. Every failure is reported to the user
// once and then returned for bookkeeping; none is fatal to the process.
func (h *Handler) HandleUpdate(ctx context.Context, u cmdpkg.Update) error {
	if u.Message == nil || u.Message.Text == nil {
		return nil
	}
	msg := u.Message
	r := &run{
		id:     uuid.NewString(),
		chatID: msg.Chat.ID,
		userID: msg.UserID(),
	}
	if msg.From != nil {
		r.name = msg.From.FirstName
	}
	r.log = h.deps.Logger.With(
		zap.String("run_id", r.id),
		zap.Int64("chat_id", r.chatID),
		zap.Int64("user_id", r.userID),
		zap.Int64("update_id", u.UpdateID),
	)
	r.eventID = h.event(h.parent(), db.EventMessageReceived, map[string]any{
		"run_id":    r.id,
		"chat_id":   r.chatID,
		"user_id":   r.userID,
		"update_id": u.UpdateID,
		"text":      truncate(*msg.Text, 1000),
	})

	started := time.Now()
	err := h.handle(ctx, r, *msg.Text)
	if err == nil {
		r.log.Debug("update handled", zap.Duration("elapsed", time.Since(started)))
		return nil
	}
	if ctx.Err() != nil {
		r.log.Info("update abandoned", zap.Error(err))
		return err
	}

	var (
		verr *ValidationError
		rerr *RateLimitedError
		xerr *usage.ExhaustedError
	)
	if errors.As(err, &verr) || errors.As(err, &rerr) || errors.As(err, &xerr) {
		h.event(&r.eventID, db.EventMessageRejected, map[string]any{"reason": err.Error()})
		r.log.Info("message rejected", zap.Error(err))
	} else {
		r.log.Warn("message failed", zap.Error(err))
	}
	if sendErr := h.deps.Channel.SendText(ctx, r.chatID, userMessage(err), cmdpkg.FormatPlain); sendErr != nil {
		r.log.Warn("failed to notify user", zap.Error(sendErr))
	}
	return err
}

func (h *Handler) handle(ctx context.Context, r *run, raw string) error {
	text := textnorm.Normalize(raw)
	if text == "" {
		return invalid("Пустое сообщение. Напишите вопрос или /help.")
	}
	if strings.HasPrefix(text, "/") {
		return h.command(ctx, r, text)
	}
	if !h.deps.Limiter.Allow(r.userID) {
		return &RateLimitedError{
			Remaining: h.deps.Limiter.Remaining(r.userID),
			ResetIn:   h.deps.Limiter.ResetIn(r.userID),
		}
	}
	return h.chat(ctx, r, text)
}

func (h *Handler) chat(ctx context.Context, r *run, text string) error {
	sess := h.deps.Sessions.Get(r.userID)
	spec, ok := h.deps.Catalog.Lookup(sess.Model)
	if !ok {
		return invalid("Модель %q недоступна. Выберите другую: /models", sess.Model)
	}
	provider, ok := h.deps.Providers[spec.Provider]
	if !ok {
		return invalid("Провайдер %s не настроен. Выберите другую модель: /models", spec.Provider)
	}

	category, prompt := h.deps.Classifier.Classify(text)
	r.log = r.log.With(zap.String("model", spec.Alias), zap.String("category", string(category)))

	recent, err := h.deps.History.Recent(r.userID, h.settings.HistoryContext)
	if err != nil {
		r.log.Warn("failed to load history", zap.Error(err))
		recent = nil
	}

	key := CacheKey{Model: spec.Alias, Prompt: prompt, Context: contextDigest(recent)}
	reply, hit := "", false
	if h.deps.Cache != nil {
		reply, hit = h.deps.Cache.Get(key)
	}
	if hit {
		h.event(&r.eventID, db.EventCacheHit, map[string]any{"model": spec.Alias})
		r.log.Debug("cache hit")
	} else {
		reply, err = h.complete(ctx, r, spec, provider, recent, prompt)
		if err != nil {
			return err
		}
		if h.deps.Cache != nil {
			h.deps.Cache.Set(key, reply)
		}
	}

	parts, err := h.deliver(ctx, r, reply)
	if err != nil {
		return err
	}

	// Only exchanges the user fully received enter history and stats.
	if err := h.deps.History.Append(r.userID,
		history.Message{Role: history.RoleUser, Content: text},
		history.Message{Role: history.RoleAssistant, Content: reply},
	); err != nil {
		r.log.Warn("failed to append history", zap.Error(err))
	}
	h.deps.Sessions.Update(r.userID, func(s *session.Session) {
		s.Messages++
		s.ByCategory[category]++
	})
	h.event(&r.eventID, db.EventMessageCompleted, map[string]any{
		"model":    spec.Alias,
		"category": string(category),
		"parts":    parts,
		"cached":   hit,
	})
	return nil
}

// complete calls the provider under the usage, breaker and retry guards.
// Usage is only counted when the call succeeds.
func (h *Handler) complete(ctx context.Context, r *run, spec model.ModelSpec, provider model.Provider, recent []history.Message, prompt string) (string, error) {
	var reservation *usage.Reservation
	if len(spec.Tiers) > 0 {
		var err error
		reservation, err = h.deps.Usage.Reserve(string(spec.Provider), spec.Tiers...)
		if err != nil {
			var xerr *usage.ExhaustedError
			if errors.As(err, &xerr) {
				h.event(&r.eventID, db.EventUsageExhausted, map[string]any{
					"scope": xerr.Scope, "tier": xerr.Tier, "used": xerr.Used, "limit": xerr.Limit,
				})
			}
			return "", err
		}
	}
	defer reservation.Cancel()

	breaker := h.deps.Breakers.For(string(spec.Provider))
	before := breaker.State()
	if !breaker.Allow(h.deps.Clock.Now()) {
		return "", &ProviderUnavailableError{Provider: spec.Provider, RetryAt: breaker.RetryAt()}
	}
	if before == control.CircuitOpen {
		h.event(h.parent(), db.EventCircuitHalfOpen, map[string]any{"provider": string(spec.Provider)})
	}

	req := model.ChatRequest{
		Model:           spec.ID,
		Messages:        h.assembler.Assemble(h.settings.SystemPrompt, recent, prompt),
		MaxOutputTokens: spec.MaxOutputTokens,
		Temperature:     h.settings.Temperature,
	}
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = h.settings.MaxOutputTokens
	}

	var resp model.CompletionResponse
	started := time.Now()
	err := control.Retry(ctx, h.settings.Policy, model.IsRetryable,
		func(attempt int, err error, wait time.Duration) {
			r.log.Info("retrying provider call", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
			h.event(&r.eventID, db.EventRetryScheduled, map[string]any{
				"provider":    string(spec.Provider),
				"attempt":     attempt,
				"backoff_ms":  wait.Milliseconds(),
				"error_class": string(model.KindOf(err)),
				"error":       truncate(err.Error(), 500),
			})
		},
		func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, h.settings.Policy.ProviderTimeout)
			defer cancel()
			var callErr error
			resp, callErr = provider.ChatCompletion(callCtx, req)
			return callErr
		})
	latency := time.Since(started)

	if err != nil {
		if ctx.Err() == nil {
			class := string(model.KindOf(err))
			if breaker.RecordFailure(class, h.deps.Clock.Now()) {
				h.event(h.parent(), db.EventCircuitOpened, map[string]any{
					"provider":         string(spec.Provider),
					"error_class":      class,
					"threshold":        breaker.Threshold,
					"cooldown_seconds": int(breaker.Cooldown.Seconds()),
				})
				r.log.Warn("circuit opened", zap.String("provider", string(spec.Provider)), zap.String("error_class", class))
			}
		} else {
			breaker.Release()
		}
		h.event(&r.eventID, db.EventProviderFailed, map[string]any{
			"provider":    string(spec.Provider),
			"model":       spec.ID,
			"latency_ms":  latency.Milliseconds(),
			"error_class": string(model.KindOf(err)),
			"error":       truncate(err.Error(), 1000),
		})
		return "", fmt.Errorf("%s completion: %w", spec.Alias, err)
	}

	reservation.Commit()
	if len(spec.Tiers) > 0 {
		h.deps.Usage.RecordTokens(string(spec.Provider), int64(resp.InputTokens), int64(resp.OutputTokens))
	}
	if breaker.RecordSuccess() {
		h.event(h.parent(), db.EventCircuitClosed, map[string]any{"provider": string(spec.Provider), "recovered": true})
	}
	h.event(&r.eventID, db.EventProviderCalled, map[string]any{
		"provider":      string(spec.Provider),
		"model":         spec.ID,
		"latency_ms":    latency.Milliseconds(),
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	})
	r.log.Info("provider call completed",
		zap.Duration("latency", latency),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
	)

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		content = model.EmptyResponse
	}
	return content, nil
}

// deliver splits reply and sends each fragment as HTML, falling back to plain
// text once. Delivery stops at the first fragment that fails both ways.
func (h *Handler) deliver(ctx context.Context, r *run, reply string) (int, error) {
	parts := chunk.Plan(reply, h.settings.Chunk)
	plain := chunk.Annotate(parts)
	for i, p := range parts {
		html := format.TelegramHTML(p.Text, p.InCode, p.FenceLang)
		if len(parts) > 1 {
			html += format.Escape(chunk.Marker(p))
		}
		err := h.deps.Channel.SendText(ctx, r.chatID, html, cmdpkg.FormatHTML)
		if err != nil && ctx.Err() == nil {
			r.log.Debug("html delivery failed, retrying as plain text",
				zap.Int("part", i+1), zap.String("kind", string(cmdpkg.DeliveryKindOf(err))), zap.Error(err))
			err = h.deps.Channel.SendText(ctx, r.chatID, plain[i], cmdpkg.FormatPlain)
		}
		if err != nil {
			label := strings.TrimPrefix(chunk.Marker(p), "\n\n📄 Часть ")
			h.event(&r.eventID, db.EventDeliveryFailed, map[string]any{
				"part":  label,
				"kind":  string(cmdpkg.DeliveryKindOf(err)),
				"error": truncate(err.Error(), 500),
			})
			return i, &DeliveryFailure{Part: label, Index: i + 1, Total: len(parts), Err: err}
		}
	}
	h.event(&r.eventID, db.EventReplySent, map[string]any{"chat_id": r.chatID, "parts": len(parts)})
	return len(parts), nil
}

func (h *Handler) parent() *int64 {
	if h.settings.ParentEventID == 0 {
		return nil
	}
	id := h.settings.ParentEventID
	return &id
}

// event logs an audit event and returns its id, or 0 when no event log is
// configured or the write failed.
func (h *Handler) event(parent *int64, eventType string, payload map[string]any) int64 {
	if h.deps.Events == nil {
		return 0
	}
	if parent != nil && *parent == 0 {
		parent = nil
	}
	id, err := h.deps.Events.Log(parent, eventType, payload)
	if err != nil {
		h.deps.Logger.Debug("failed to log event", zap.String("event_type", eventType), zap.Error(err))
		return 0
	}
	return id
}
