// Package commander defines the chat-platform side of the bot: where updates
// come from and where replies go.
package commander

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Source yields inbound updates.
type Source interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
}

// Format selects how a text message is rendered by the platform.
type Format string

const (
	FormatPlain Format = ""
	FormatHTML  Format = "HTML"
)

// DeliveryChannel sends replies to a conversation. Failures are returned as
// *DeliveryError.
type DeliveryChannel interface {
	SendText(ctx context.Context, chatID int64, text string, format Format) error
	SendImage(ctx context.Context, chatID int64, image []byte, caption string) error
}

// Commander is a full chat platform binding.
type Commander interface {
	Source
	DeliveryChannel
}

// Choice is one inline button; Data comes back as the text of a message
// when the button is pressed.
type Choice struct {
	Label string
	Data  string
}

// ChoiceSender is implemented by channels that can attach buttons.
type ChoiceSender interface {
	SendChoices(ctx context.Context, chatID int64, text string, format Format, rows [][]Choice) error
}

// Update represents an incoming command/update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a source message.
type Message struct {
	MessageID int64   `json:"message_id,omitempty"`
	From      *User   `json:"from,omitempty"`
	Chat      Chat    `json:"chat"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// UserID identifies the sender, falling back to the chat for channels that
// do not report one.
func (m *Message) UserID() int64 {
	if m.From != nil && m.From.ID != 0 {
		return m.From.ID
	}
	return m.Chat.ID
}

// User is a message author.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// DeliveryErrorKind classifies a failed send.
type DeliveryErrorKind string

const (
	DeliveryTooLong     DeliveryErrorKind = "too_long"
	DeliveryBadMarkup   DeliveryErrorKind = "bad_markup"
	DeliveryRateLimited DeliveryErrorKind = "rate_limited"
	DeliveryRejected    DeliveryErrorKind = "rejected"
	DeliveryServer      DeliveryErrorKind = "server"
	DeliveryNetwork     DeliveryErrorKind = "network"
)

// DeliveryError is a typed send failure.
type DeliveryError struct {
	Kind        DeliveryErrorKind
	Status      int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *DeliveryError) Error() string {
	msg := "delivery failed: " + string(e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ClassifyDelivery maps a platform status and description to a kind.
func ClassifyDelivery(status int, description string) DeliveryErrorKind {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "message is too long"), strings.Contains(d, "caption is too long"):
		return DeliveryTooLong
	case strings.Contains(d, "can't parse entities"), strings.Contains(d, "unsupported start tag"):
		return DeliveryBadMarkup
	case status == 429:
		return DeliveryRateLimited
	case status >= 500:
		return DeliveryServer
	case status == 0:
		return DeliveryNetwork
	default:
		return DeliveryRejected
	}
}

// DeliveryKindOf returns the kind of a DeliveryError in err's chain, or "".
func DeliveryKindOf(err error) DeliveryErrorKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
