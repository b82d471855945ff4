package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
)

// MaxMessageLength is the platform limit on a single text message.
const MaxMessageLength = 4096

// maxCaptionLength is the platform limit on a photo caption.
const maxCaptionLength = 1024

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

var (
	_ cmdpkg.Commander    = (*Client)(nil)
	_ cmdpkg.ChoiceSender = (*Client)(nil)
)

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// APIBase builds the bot API base URL for a token.
func APIBase(endpoint, token string) string {
	return strings.TrimRight(endpoint, "/") + "/bot" + token
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

type tgRawUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *cmdpkg.Message  `json:"message,omitempty"`
	CallbackQuery *tgCallbackQuery `json:"callback_query,omitempty"`
}

type tgCallbackQuery struct {
	ID      string          `json:"id"`
	From    *cmdpkg.User    `json:"from,omitempty"`
	Data    string          `json:"data"`
	Message *cmdpkg.Message `json:"message,omitempty"`
}

// GetUpdates long-polls the getUpdates API. Button presses are mapped to
// messages whose text is the button data, from the user who pressed it.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build getUpdates request: %w", err)
	}
	result, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", err)
	}

	var raws []tgRawUpdate
	if err := json.Unmarshal(result, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	updates := make([]Update, 0, len(raws))
	for _, ru := range raws {
		if ru.Message != nil {
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: ru.Message})
			continue
		}
		if ru.CallbackQuery != nil && ru.CallbackQuery.Message != nil {
			msg := *ru.CallbackQuery.Message
			data := strings.TrimSpace(ru.CallbackQuery.Data)
			msg.Text = &data
			if ru.CallbackQuery.From != nil {
				msg.From = ru.CallbackQuery.From
			}
			if msg.Date == 0 {
				msg.Date = time.Now().Unix()
			}
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: &msg})
			_ = c.answerCallbackQuery(ctx, ru.CallbackQuery.ID)
			continue
		}
		// Keep the id so the offset still advances past unsupported updates.
		updates = append(updates, Update{UpdateID: ru.UpdateID})
	}
	return updates, nil
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// visibleLength counts the characters the platform checks against
// MaxMessageLength: for HTML, tags are not counted and entities count once.
func visibleLength(text string, format cmdpkg.Format) int {
	if format == cmdpkg.FormatHTML {
		text = html.UnescapeString(htmlTag.ReplaceAllString(text, ""))
	}
	return utf8.RuneCountInString(text)
}

// SendText sends a text message. Text whose visible length exceeds the
// platform limit is rejected as DeliveryTooLong without a request.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, format cmdpkg.Format) error {
	if n := visibleLength(text, format); n > MaxMessageLength {
		return &cmdpkg.DeliveryError{
			Kind:        cmdpkg.DeliveryTooLong,
			Description: fmt.Sprintf("message has %d characters, limit is %d", n, MaxMessageLength),
		}
	}
	payload := map[string]any{"chat_id": chatID, "text": text}
	if format != cmdpkg.FormatPlain {
		payload["parse_mode"] = string(format)
	}
	return c.postJSON(ctx, "sendMessage", payload)
}

// SendChoices sends a message with one inline keyboard row per rows entry.
func (c *Client) SendChoices(ctx context.Context, chatID int64, text string, format cmdpkg.Format, rows [][]cmdpkg.Choice) error {
	keyboard := make([][]map[string]string, 0, len(rows))
	for _, row := range rows {
		buttons := make([]map[string]string, 0, len(row))
		for _, ch := range row {
			buttons = append(buttons, map[string]string{"text": ch.Label, "callback_data": ch.Data})
		}
		keyboard = append(keyboard, buttons)
	}
	payload := map[string]any{
		"chat_id":      chatID,
		"text":         truncate(text, MaxMessageLength),
		"reply_markup": map[string]any{"inline_keyboard": keyboard},
	}
	if format != cmdpkg.FormatPlain {
		payload["parse_mode"] = string(format)
	}
	return c.postJSON(ctx, "sendMessage", payload)
}

// SendImage uploads a PNG as a photo.
func (c *Client) SendImage(ctx context.Context, chatID int64, image []byte, caption string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", truncate(caption, maxCaptionLength)); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("photo", "image.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/sendPhoto", &body)
	if err != nil {
		return fmt.Errorf("build sendPhoto request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("telegram sendPhoto: %w", err)
	}
	return nil
}

func (c *Client) answerCallbackQuery(ctx context.Context, callbackID string) error {
	callbackID = strings.TrimSpace(callbackID)
	if callbackID == "" {
		return nil
	}
	return c.postJSON(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID})
}

func (c *Client) postJSON(ctx context.Context, method string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	return nil
}

// do executes req and unwraps the API envelope. Failures come back as
// *commander.DeliveryError.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &cmdpkg.DeliveryError{Kind: cmdpkg.DeliveryNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &cmdpkg.DeliveryError{Kind: cmdpkg.DeliveryNetwork, Status: resp.StatusCode, Err: err}
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &cmdpkg.DeliveryError{
				Kind:        cmdpkg.ClassifyDelivery(resp.StatusCode, ""),
				Status:      resp.StatusCode,
				Description: truncate(strings.TrimSpace(string(body)), 200),
			}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !tgResp.OK {
		status := tgResp.ErrorCode
		if status == 0 {
			status = resp.StatusCode
		}
		de := &cmdpkg.DeliveryError{
			Kind:        cmdpkg.ClassifyDelivery(status, tgResp.Description),
			Status:      status,
			Description: tgResp.Description,
		}
		if tgResp.Parameters != nil && tgResp.Parameters.RetryAfter > 0 {
			de.RetryAfter = time.Duration(tgResp.Parameters.RetryAfter) * time.Second
		}
		return nil, de
	}
	return tgResp.Result, nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
