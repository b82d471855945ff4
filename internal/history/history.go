// Package history keeps a bounded rolling log of each user's conversation.
package history

// Roles used in stored messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a model-agnostic chat message.
type Message struct {
	Role    string
	Content string
}

// Store retains at most a fixed number of messages per user, dropping the
// oldest first.
type Store interface {
	// Append adds msgs in order and trims the user's log to the retention
	// bound.
	Append(userID int64, msgs ...Message) error
	// Recent returns up to k of the newest messages, oldest first.
	Recent(userID int64, k int) ([]Message, error)
	// Clear drops the user's log.
	Clear(userID int64) error
}

// DefaultRetention is the number of messages kept per user.
const DefaultRetention = 10
