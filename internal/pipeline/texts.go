package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/stupiduntilnot/relaybot/internal/classify"
	"github.com/stupiduntilnot/relaybot/internal/control"
	"github.com/stupiduntilnot/relaybot/internal/model"
	"github.com/stupiduntilnot/relaybot/internal/session"
	"github.com/stupiduntilnot/relaybot/internal/usage"
)

const helpText = `📚 **Как использовать бота:**

💬 Просто напишите сообщение! Бот сам определит тип задачи и подготовит запрос.

💻 **Код:** "создай функцию для сортировки списка"
🧮 **Задачи:** "реши квадратное уравнение x²+5x+6=0"
🔍 **Информация:** "что такое машинное обучение"
💭 **Общение:** "расскажи анекдот"

🤖 **Команды:**
/models - выбор модели ИИ
/model <имя> - переключиться на модель
/stats - статистика использования
/reset - очистить историю диалога
/image <описание> - сгенерировать изображение
/help - эта справка`

func welcomeText(name string) string {
	if name == "" {
		name = "друг"
	}
	return fmt.Sprintf(`Привет, %s! Я пересылаю ваши вопросы языковым моделям и возвращаю ответы. 🚀

**Что я умею:**
• 💻 Писать код
• 🧮 Решать задачи
• 🔍 Искать информацию
• 💭 Общаться

/models - выбрать модель
/stats - статистика
/help - помощь`, name)
}

func modelsText(list []model.ModelSpec, current string) string {
	var b strings.Builder
	b.WriteString("🤖 **Доступные модели:**\n")
	var provider model.ProviderID
	for _, m := range list {
		if m.Provider != provider {
			provider = m.Provider
			fmt.Fprintf(&b, "\n**%s**\n", provider)
		}
		mark := "•"
		if m.Alias == current {
			mark = "✅"
		}
		free := ""
		if m.Free {
			free = " 🆓"
		}
		fmt.Fprintf(&b, "%s `%s` - %s%s\n", mark, m.Alias, m.Label, free)
	}
	b.WriteString("\nВыбор: /model <имя>")
	return b.String()
}

func statsText(s session.Session, spec model.ModelSpec, snap usage.ScopeSnapshot, hasScope bool) string {
	var b strings.Builder
	b.WriteString("📊 **Статистика**\n\n")
	fmt.Fprintf(&b, "🤖 Модель: %s (`%s`)\n", spec.Label, spec.Alias)
	fmt.Fprintf(&b, "🌟 Провайдер: %s\n", spec.Provider)
	fmt.Fprintf(&b, "📅 С нами с: %s\n\n", s.JoinedAt.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "💬 Сообщений: %d\n", s.Messages)
	fmt.Fprintf(&b, "⌨️ Команд: %d\n", s.Commands)
	fmt.Fprintf(&b, "🖼 Изображений: %d\n", s.Images)
	for _, c := range []classify.Category{classify.Code, classify.Solve, classify.Search, classify.Chat} {
		if n := s.ByCategory[c]; n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", c.Label(), n)
		}
	}
	if !hasScope {
		return b.String()
	}
	fmt.Fprintf(&b, "\n📈 **Лимиты %s:**\n", spec.Provider)
	tiers := make([]string, 0, len(snap.Tiers))
	for t := range snap.Tiers {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	for _, t := range tiers {
		c := snap.Tiers[t]
		fmt.Fprintf(&b, "• %s: %d/%d\n", t, c.Used+c.Reserved, c.Limit)
	}
	fmt.Fprintf(&b, "🔢 Токены: %d вход / %d выход\n", snap.InputTokens, snap.OutputTokens)
	fmt.Fprintf(&b, "🔄 Сброс счетчиков: %s UTC", snap.ResetAt.UTC().Format("2006-01-02 15:04"))
	return b.String()
}

// userMessage turns a pipeline error into the single notice sent to the user.
func userMessage(err error) string {
	var (
		verr  *ValidationError
		rerr  *RateLimitedError
		xerr  *usage.ExhaustedError
		perr  *model.ProviderError
		uerr  *ProviderUnavailableError
		lerr  *control.LimitError
		dfail *DeliveryFailure
	)
	switch {
	case errors.As(err, &verr):
		return "⚠️ " + verr.Hint
	case errors.As(err, &rerr):
		return fmt.Sprintf("⏳ Слишком много запросов. Попробуйте снова через %d сек.", seconds(rerr.ResetIn))
	case errors.As(err, &xerr):
		return fmt.Sprintf("📉 Лимит запросов %s/%s исчерпан (%d/%d). Сброс: %s UTC.",
			xerr.Scope, xerr.Tier, xerr.Used, xerr.Limit, xerr.ResetAt.UTC().Format("2006-01-02 15:04"))
	case errors.As(err, &uerr):
		return fmt.Sprintf("🔌 Провайдер %s временно недоступен. Попробуйте после %s UTC.",
			uerr.Provider, uerr.RetryAt.UTC().Format("15:04:05"))
	case errors.As(err, &lerr):
		provider := "LLM"
		if errors.As(err, &perr) {
			provider = string(perr.Provider)
		}
		if lerr.Type == control.LimitWallTime {
			return fmt.Sprintf("⌛ Провайдер %s не ответил за %d сек. Попробуйте позже.", provider, lerr.Threshold)
		}
		return fmt.Sprintf("🔁 Провайдер %s не ответил после %d повторных попыток. Попробуйте позже.", provider, lerr.Value)
	case errors.As(err, &perr):
		switch perr.Kind {
		case model.KindUnauthorized:
			return fmt.Sprintf("🔑 Провайдер %s отклонил ключ доступа.", perr.Provider)
		case model.KindRateLimited:
			return fmt.Sprintf("🚦 Провайдер %s перегружен, попробуйте позже.", perr.Provider)
		case model.KindBadRequest:
			return fmt.Sprintf("❌ Провайдер %s отклонил запрос: %s", perr.Provider, truncate(perr.Detail, 300))
		case model.KindNetworkFailure:
			return fmt.Sprintf("⌛ Провайдер %s не ответил вовремя.", perr.Provider)
		default:
			return fmt.Sprintf("💥 Ошибка на стороне провайдера %s.", perr.Provider)
		}
	case errors.As(err, &dfail):
		return fmt.Sprintf("❌ Ошибка отправки части %s: %s", dfail.Part, truncate(dfail.Err.Error(), 300))
	default:
		return "❌ Ошибка при обработке сообщения: " + truncate(err.Error(), 600)
	}
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
