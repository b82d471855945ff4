package dummy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	"github.com/stupiduntilnot/relaybot/internal/history"
	modelpkg "github.com/stupiduntilnot/relaybot/internal/model"
)

func req(text string) modelpkg.ChatRequest {
	return modelpkg.ChatRequest{Model: "x", Messages: []history.Message{{Role: history.RoleUser, Content: text}}}
}

func TestNewProvider_InvalidScript(t *testing.T) {
	_, err := NewProvider("x", "boom")
	require.Error(t, err)
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("x", "err:server_error,msg:hello")
	require.NoError(t, err)

	_, err = p.ChatCompletion(context.Background(), req("hi"))
	require.Error(t, err)
	assert.Equal(t, modelpkg.KindServerError, modelpkg.KindOf(err))
	assert.True(t, modelpkg.IsRetryable(err))

	resp, err := p.ChatCompletion(context.Background(), req("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)

	// Last action repeats.
	resp, err = p.ChatCompletion(context.Background(), req("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Len(t, p.Calls(), 3)
}

func TestProvider_Echo(t *testing.T) {
	p, err := NewProvider("x", "echo")
	require.NoError(t, err)
	resp, err := p.ChatCompletion(context.Background(), req("how are you"))
	require.NoError(t, err)
	assert.Equal(t, "how are you", resp.Content)
	assert.Equal(t, 3, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
}

func TestProvider_SleepHonoursContext(t *testing.T) {
	p, err := NewProvider("x", "sleep:5000")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.ChatCompletion(ctx, req("hi"))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, modelpkg.KindNetworkFailure, modelpkg.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvider_MsgB64Action(t *testing.T) {
	p, err := NewProvider("x", "msgb64:aGVsbG8=") // "hello"
	require.NoError(t, err)
	resp, err := p.ChatCompletion(context.Background(), req("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
}

func TestProvider_GenerateImage(t *testing.T) {
	p, err := NewProvider("x", "ok,err:bad_request")
	require.NoError(t, err)
	img, err := p.GenerateImage(context.Background(), "cat")
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), img[0])

	_, err = p.GenerateImage(context.Background(), "cat")
	assert.Equal(t, modelpkg.KindBadRequest, modelpkg.KindOf(err))
}

func TestCommander_MsgAction(t *testing.T) {
	c, err := NewCommander("msg:test-msg", "ok")
	require.NoError(t, err)
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Message)
	require.NotNil(t, updates[0].Message.Text)
	assert.Equal(t, "test-msg", *updates[0].Message.Text)
	assert.Equal(t, int64(1), updates[0].Message.UserID())
}

func TestCommander_RecordsSends(t *testing.T) {
	c, err := NewCommander("ok", "err:bad_markup,ok")
	require.NoError(t, err)

	err = c.SendText(context.Background(), 1, "<b>x", cmdpkg.FormatHTML)
	assert.Equal(t, cmdpkg.DeliveryBadMarkup, cmdpkg.DeliveryKindOf(err))

	require.NoError(t, c.SendText(context.Background(), 1, "x", cmdpkg.FormatPlain))
	require.NoError(t, c.SendImage(context.Background(), 1, []byte{1}, "cap"))

	sent := c.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "x", sent[0].Text)
	assert.Equal(t, []byte{1}, sent[1].Image)
}
