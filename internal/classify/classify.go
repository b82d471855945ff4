// Package classify maps a free-text user message to a task category and the
// enhanced prompt sent to the provider.
package classify

import (
	"fmt"
	"strings"
)

// Category is the task kind inferred from a message.
type Category string

const (
	Code   Category = "code"
	Solve  Category = "solve"
	Search Category = "search"
	Chat   Category = "chat"
)

// Label is the user-facing name of the category.
func (c Category) Label() string {
	switch c {
	case Code:
		return "💻 Генерация кода"
	case Solve:
		return "🧮 Решение задач"
	case Search:
		return "🔍 Поиск информации"
	default:
		return "💭 Общий чат"
	}
}

// Rule pairs a predicate with the category and prompt template it selects.
// Template is a fmt format with a single %s verb for the raw message.
type Rule struct {
	Category Category
	Match    func(lower string) bool
	Template string
}

// Keywords returns a predicate matching when any keyword is a substring of
// the lower-cased message.
func Keywords(words ...string) func(string) bool {
	return func(lower string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules    []Rule
	fallback Rule
}

// New builds a classifier from an ordered rule table and a fallback rule used
// when nothing matches.
func New(rules []Rule, fallback Rule) *Classifier {
	return &Classifier{rules: rules, fallback: fallback}
}

// Classify returns the category and the enhanced prompt for message.
func (c *Classifier) Classify(message string) (Category, string) {
	lower := strings.ToLower(message)
	for _, r := range c.rules {
		if r.Match != nil && r.Match(lower) {
			return r.Category, fmt.Sprintf(r.Template, message)
		}
	}
	return c.fallback.Category, fmt.Sprintf(c.fallback.Template, message)
}

var defaultClassifier = New(DefaultRules(), Rule{Category: Chat, Template: chatTemplate})

// Default returns the classifier built from DefaultRules with a chat
// fallback.
func Default() *Classifier { return defaultClassifier }

// Classify uses the default rule table.
func Classify(message string) (Category, string) {
	return defaultClassifier.Classify(message)
}

// DefaultRules is the built-in rule table: code, then solve, then search.
// "найди" appears under both solve and search; solve is checked first.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: Code,
			Match: Keywords(
				"код", "программа", "функция", "алгоритм", "создай", "напиши", "реализуй",
				"code", "program", "function", "algorithm", "implement",
			),
			Template: codeTemplate,
		},
		{
			Category: Solve,
			Match: Keywords(
				"реши", "задача", "уравнение", "вычисли", "посчитай", "найди",
				"solve", "equation", "calculate", "compute",
			),
			Template: solveTemplate,
		},
		{
			Category: Search,
			Match: Keywords(
				"найди", "информация", "что такое", "расскажи", "объясни", "как работает",
				"what is", "explain", "how does", "tell me about",
			),
			Template: searchTemplate,
		},
	}
}

const codeTemplate = `Напиши полноценный, рабочий код для следующей задачи: %s

Требования:
1. Код должен быть полностью рабочим
2. Добавь подробные комментарии
3. Включи обработку ошибок
4. Добавь примеры использования
5. Объясни логику работы

Формат ответа:
` + "```python\n# Код здесь\n```" + `

## Объяснение:
Детальное объяснение решения`

const solveTemplate = `Реши следующую задачу: %s

Требования к ответу:
1. Пошаговое решение
2. Объяснение каждого шага
3. Математические выкладки (если применимо)
4. Альтернативные способы решения
5. Практические примеры

Дай подробный, понятный ответ с примерами.`

const searchTemplate = `Найди и проанализируй информацию по запросу: %s

Требования к ответу:
1. Подробный анализ темы
2. Актуальная информация
3. Практические примеры
4. Связи с другими концепциями
5. Практическое применение

Предоставь глубокий, информативный ответ.`

const chatTemplate = `Ответь на следующее сообщение: %s

Требования к ответу:
1. Полезный и информативный ответ
2. Если это вопрос - дай развернутый ответ
3. Если это просьба - выполни её
4. Если это шутка - поддержи юмор
5. Будь дружелюбным и полезным

Дай качественный, полезный ответ.`
