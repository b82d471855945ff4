package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command in-process with the given stdin.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--log-format", "console"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSplitCommand(t *testing.T) {
	out, err := execute(t, strings.Repeat("a", 30)+"\n"+strings.Repeat("b", 30)+"\n", "split", "-n", "40", "--raw")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 30)+"\n----\n"+strings.Repeat("b", 30)+"\n", out)
}

func TestSplitCommandMarksParts(t *testing.T) {
	out, err := execute(t, strings.Repeat("x", 10000), "split")
	require.NoError(t, err)
	parts := strings.Split(strings.TrimSuffix(out, "\n"), "\n----\n")
	require.Len(t, parts, 3)
	assert.True(t, strings.HasSuffix(parts[0], "📄 Часть 1.1/1"))
	assert.True(t, strings.HasSuffix(parts[2], "📄 Часть 1.3/1"))
}

func TestClassifyCommand(t *testing.T) {
	out, err := execute(t, "", "classify", "напиши", "функцию", "сортировки")
	require.NoError(t, err)
	assert.Equal(t, "code\t💻 Генерация кода\n", out)

	out, err = execute(t, "", "classify", "--prompt", "привет")
	require.NoError(t, err)
	lines := strings.SplitN(out, "\n", 2)
	assert.True(t, strings.HasPrefix(lines[0], "chat\t"))
	assert.Contains(t, lines[1], "привет")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "relaybot dev\n", out)
}

func TestUnknownLogFormat(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-format", "xml", "version"})
	assert.ErrorContains(t, cmd.Execute(), "unknown log format")
}
