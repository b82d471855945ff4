// Package dummy provides scripted stand-ins for the chat platform and the
// model providers, used by tests and by the dummy provider in config.
//
// A script is a comma-separated list of actions consumed one per call; the
// last action repeats once the script is exhausted:
//
//	ok          succeed with a default reply
//	echo        reply with the last user message (providers only)
//	err:<kind>  fail with the given error kind
//	sleep:<ms>  wait, honouring ctx, then succeed
//	msg:<text>  reply (provider) or deliver an update (commander) with text
//	msgb64:<b>  as msg, with base64-encoded text
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	"github.com/stupiduntilnot/relaybot/internal/history"
	modelpkg "github.com/stupiduntilnot/relaybot/internal/model"
)

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" || token == "echo" {
			actions = append(actions, action{kind: token})
			continue
		}
		matched := false
		for _, prefix := range []string{"err", "sleep", "msg", "msgb64"} {
			if strings.HasPrefix(token, prefix+":") {
				actions = append(actions, action{kind: prefix, arg: strings.TrimPrefix(token, prefix+":")})
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

func sleep(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func decodeText(a action) (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("dummy msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

// Sent is one message delivered through the dummy Commander.
type Sent struct {
	ChatID  int64
	Text    string
	Format  cmdpkg.Format
	Image   []byte
	Choices [][]cmdpkg.Choice
}

// Commander is a scripted chat platform. Every successful send is recorded.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	userID   int64
	sent     []Sent
}

var (
	_ cmdpkg.Commander    = (*Commander)(nil)
	_ cmdpkg.ChoiceSender = (*Commander)(nil)
)

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send, updateID: 1, userID: 1}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, &cmdpkg.DeliveryError{
			Kind:        cmdpkg.DeliveryErrorKind(emptyAs(a.arg, string(cmdpkg.DeliveryNetwork))),
			Description: "dummy commander poll error",
		}
	case "sleep":
		return nil, sleep(ctx, a.arg)
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.updateID++
		return []cmdpkg.Update{
			{
				UpdateID: c.updateID,
				Message: &cmdpkg.Message{
					MessageID: c.updateID,
					From:      &cmdpkg.User{ID: c.userID},
					Chat:      cmdpkg.Chat{ID: c.userID},
					Text:      &text,
					Date:      time.Now().Unix(),
				},
			},
		}, nil
	default:
		return nil, nil
	}
}

func (c *Commander) SendText(ctx context.Context, chatID int64, text string, format cmdpkg.Format) error {
	return c.deliver(ctx, Sent{ChatID: chatID, Text: text, Format: format})
}

func (c *Commander) SendImage(ctx context.Context, chatID int64, image []byte, caption string) error {
	return c.deliver(ctx, Sent{ChatID: chatID, Text: caption, Image: image})
}

func (c *Commander) SendChoices(ctx context.Context, chatID int64, text string, format cmdpkg.Format, rows [][]cmdpkg.Choice) error {
	return c.deliver(ctx, Sent{ChatID: chatID, Text: text, Format: format, Choices: rows})
}

func (c *Commander) deliver(ctx context.Context, s Sent) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return &cmdpkg.DeliveryError{
			Kind:        cmdpkg.DeliveryErrorKind(emptyAs(a.arg, string(cmdpkg.DeliveryServer))),
			Description: "dummy commander send error",
		}
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, s)
	c.mu.Unlock()
	return nil
}

// Sent returns a copy of every delivered message in order.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Provider is a scripted model gateway.
type Provider struct {
	mu     sync.Mutex
	model  string
	script *scriptRunner
	calls  []modelpkg.ChatRequest
}

var (
	_ modelpkg.Provider      = (*Provider)(nil)
	_ modelpkg.ImageProvider = (*Provider)(nil)
)

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

func (p *Provider) ChatCompletion(ctx context.Context, req modelpkg.ChatRequest) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return modelpkg.CompletionResponse{}, err
	}

	in := 0
	for _, m := range req.Messages {
		in += len(strings.Fields(m.Content))
	}
	reply := func(content string) (modelpkg.CompletionResponse, error) {
		return modelpkg.CompletionResponse{
			Content:      content,
			InputTokens:  max(in, 1),
			OutputTokens: max(len(strings.Fields(content)), 1),
		}, nil
	}

	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, p.providerError(a.arg)
	case "sleep":
		if err := sleep(ctx, a.arg); err != nil {
			return modelpkg.CompletionResponse{}, modelpkg.NetworkError(modelpkg.Dummy, err)
		}
		return reply("dummy-after-sleep")
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return modelpkg.CompletionResponse{}, err
		}
		return reply(text)
	case "echo":
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == history.RoleUser {
				return reply(req.Messages[i].Content)
			}
		}
		return reply("")
	default:
		return reply("dummy-ok")
	}
}

// GenerateImage returns a fixed PNG header, or fails per the script.
func (p *Provider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	p.mu.Lock()
	a := p.script.next()
	p.mu.Unlock()
	if a.kind == "err" {
		return nil, p.providerError(a.arg)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, prompt...), nil
}

// Calls returns every chat request received so far.
func (p *Provider) Calls() []modelpkg.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]modelpkg.ChatRequest(nil), p.calls...)
}

func (p *Provider) providerError(kind string) error {
	return &modelpkg.ProviderError{
		Provider: modelpkg.Dummy,
		Kind:     modelpkg.ErrorKind(emptyAs(kind, string(modelpkg.KindServerError))),
		Detail:   "dummy provider error model=" + p.model,
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
