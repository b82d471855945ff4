package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"создай функцию для сортировки списка", Code},
		{"Напиши скрипт", Code},
		{"please implement a queue", Code},
		{"реши уравнение x^2 = 4", Solve},
		{"посчитай 2+2", Solve},
		{"найди площадь круга", Solve},
		{"что такое монада?", Search},
		{"Explain TCP slow start", Search},
		{"привет, как дела?", Chat},
		{"", Chat},
	}
	for _, tt := range tests {
		got, _ := Classify(tt.msg)
		assert.Equal(t, tt.want, got, "message %q", tt.msg)
	}
}

func TestClassifyPriorityCodeBeatsSolve(t *testing.T) {
	got, _ := Classify("напиши алгоритм, чтобы решить задача коммивояжёра")
	assert.Equal(t, Code, got)
}

func TestClassifyPromptEmbedsMessage(t *testing.T) {
	msg := "создай функцию для сортировки списка"
	cat, prompt := Classify(msg)
	require.Equal(t, Code, cat)
	assert.True(t, strings.HasPrefix(prompt, "Напиши полноценный, рабочий код для следующей задачи: "+msg))
	assert.Contains(t, prompt, "```python")
}

func TestClassifyDeterministic(t *testing.T) {
	for _, msg := range []string{"расскажи про Go", "hello", "вычисли интеграл"} {
		c1, p1 := Classify(msg)
		c2, p2 := Classify(msg)
		assert.Equal(t, c1, c2)
		assert.Equal(t, p1, p2)
	}
}

func TestCustomRuleTable(t *testing.T) {
	c := New([]Rule{
		{Category: Search, Match: Keywords("weather"), Template: "lookup: %s"},
	}, Rule{Category: Chat, Template: "chat: %s"})

	cat, prompt := c.Classify("Weather in Oslo")
	assert.Equal(t, Search, cat)
	assert.Equal(t, "lookup: Weather in Oslo", prompt)

	cat, prompt = c.Classify("hi")
	assert.Equal(t, Chat, cat)
	assert.Equal(t, "chat: hi", prompt)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "💻 Генерация кода", Code.Label())
	assert.Equal(t, "💭 Общий чат", Category("other").Label())
}
