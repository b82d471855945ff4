package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/format"
	"github.com/stupiduntilnot/relaybot/internal/session"
	"github.com/stupiduntilnot/relaybot/internal/usage"
)

// parseCommand splits "/name@bot args" into name and trimmed args.
func parseCommand(text string) (name, args string) {
	head, rest, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}

func (h *Handler) command(ctx context.Context, r *run, text string) error {
	name, args := parseCommand(text)
	r.log = r.log.With(zap.String("command", name))

	var err error
	switch name {
	case "start":
		err = h.sendRich(ctx, r, welcomeText(r.name), [][]cmdpkg.Choice{
			{{Label: "🤖 Выбрать модель", Data: "/models"}},
			{{Label: "📊 Статистика", Data: "/stats"}, {Label: "❓ Помощь", Data: "/help"}},
		})
	case "help":
		err = h.sendRich(ctx, r, helpText, nil)
	case "models":
		err = h.models(ctx, r)
	case "model":
		err = h.selectModel(ctx, r, args)
	case "stats":
		err = h.stats(ctx, r)
	case "reset":
		err = h.reset(ctx, r)
	case "image":
		err = h.image(ctx, r, args)
	default:
		return invalid("Неизвестная команда /%s. Список команд: /help", name)
	}
	if err != nil {
		return err
	}
	h.deps.Sessions.Update(r.userID, func(s *session.Session) { s.Commands++ })
	h.event(&r.eventID, db.EventCommandHandled, map[string]any{"command": name})
	return nil
}

// sendRich renders Markdown text as HTML and attaches choices when the
// channel supports them.
func (h *Handler) sendRich(ctx context.Context, r *run, markdown string, choices [][]cmdpkg.Choice) error {
	html := format.TelegramHTML(markdown, false, "")
	if cs, ok := h.deps.Channel.(cmdpkg.ChoiceSender); ok && len(choices) > 0 {
		err := cs.SendChoices(ctx, r.chatID, html, cmdpkg.FormatHTML, choices)
		if err == nil {
			return nil
		}
		r.log.Debug("choices delivery failed, sending text", zap.Error(err))
	}
	err := h.deps.Channel.SendText(ctx, r.chatID, html, cmdpkg.FormatHTML)
	if err != nil && ctx.Err() == nil {
		err = h.deps.Channel.SendText(ctx, r.chatID, markdown, cmdpkg.FormatPlain)
	}
	if err != nil {
		return &DeliveryFailure{Part: "1/1", Index: 1, Total: 1, Err: err}
	}
	return nil
}

func (h *Handler) models(ctx context.Context, r *run) error {
	sess := h.deps.Sessions.Get(r.userID)
	list := h.deps.Catalog.List()
	var rows [][]cmdpkg.Choice
	for i := 0; i < len(list); i += 2 {
		row := []cmdpkg.Choice{{Label: list[i].Label, Data: "/model " + list[i].Alias}}
		if i+1 < len(list) {
			row = append(row, cmdpkg.Choice{Label: list[i+1].Label, Data: "/model " + list[i+1].Alias})
		}
		rows = append(rows, row)
	}
	return h.sendRich(ctx, r, modelsText(list, sess.Model), rows)
}

func (h *Handler) selectModel(ctx context.Context, r *run, alias string) error {
	if alias == "" {
		return invalid("Укажите модель: /model <имя>. Список моделей: /models")
	}
	spec, ok := h.deps.Catalog.Lookup(alias)
	if !ok {
		return invalid("Неизвестная модель %q. Список моделей: /models", alias)
	}
	if _, ok := h.deps.Providers[spec.Provider]; !ok {
		return invalid("Провайдер %s не настроен.", spec.Provider)
	}
	h.deps.Sessions.Update(r.userID, func(s *session.Session) {
		s.Provider = spec.Provider
		s.Model = spec.Alias
	})
	h.event(&r.eventID, db.EventModelSelected, map[string]any{"model": spec.Alias, "provider": string(spec.Provider)})
	r.log.Info("model selected", zap.String("model", spec.Alias))
	return h.sendRich(ctx, r, fmt.Sprintf("✅ **Модель изменена!**\n\n🤖 %s\n🌟 Провайдер: %s\n\n💬 Просто напишите сообщение.", spec.Label, spec.Provider), nil)
}

func (h *Handler) stats(ctx context.Context, r *run) error {
	sess := h.deps.Sessions.Get(r.userID)
	spec, ok := h.deps.Catalog.Lookup(sess.Model)
	if !ok {
		spec.Alias, spec.Label, spec.Provider = sess.Model, sess.Model, sess.Provider
	}
	snap, hasScope := h.deps.Usage.Snapshot()[string(spec.Provider)]
	return h.sendRich(ctx, r, statsText(sess, spec, snap, hasScope), nil)
}

func (h *Handler) reset(ctx context.Context, r *run) error {
	if err := h.deps.History.Clear(r.userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	h.event(&r.eventID, db.EventHistoryCleared, nil)
	return h.sendRich(ctx, r, "🧹 История диалога очищена.", nil)
}

func (h *Handler) image(ctx context.Context, r *run, prompt string) error {
	if prompt == "" {
		return invalid("Опишите изображение: /image <описание>")
	}
	if h.deps.Images == nil {
		return invalid("Генерация изображений не настроена.")
	}
	if !h.deps.Limiter.Allow(r.userID) {
		return &RateLimitedError{
			Remaining: h.deps.Limiter.Remaining(r.userID),
			ResetIn:   h.deps.Limiter.ResetIn(r.userID),
		}
	}

	var reservation *usage.Reservation
	if h.settings.ImageScope != "" && h.deps.Usage.HasTier(h.settings.ImageScope, h.settings.ImageTier) {
		var err error
		if reservation, err = h.deps.Usage.Reserve(h.settings.ImageScope, h.settings.ImageTier); err != nil {
			return err
		}
	}
	defer reservation.Cancel()

	callCtx, cancel := context.WithTimeout(ctx, h.settings.Policy.ProviderTimeout)
	defer cancel()
	started := time.Now()
	img, err := h.deps.Images.GenerateImage(callCtx, prompt)
	if err != nil {
		h.event(&r.eventID, db.EventImageFailed, map[string]any{"error": truncate(err.Error(), 500)})
		return fmt.Errorf("generate image: %w", err)
	}
	reservation.Commit()

	if err := h.deps.Channel.SendImage(ctx, r.chatID, img, truncate(prompt, 200)); err != nil {
		return &DeliveryFailure{Part: "1/1", Index: 1, Total: 1, Err: err}
	}
	h.deps.Sessions.Update(r.userID, func(s *session.Session) { s.Images++ })
	h.event(&r.eventID, db.EventImageSent, map[string]any{
		"bytes":      len(img),
		"latency_ms": time.Since(started).Milliseconds(),
	})
	return nil
}
