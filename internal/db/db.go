package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Process lifecycle events.
const (
	EventProcessStarted = "process.started"
	EventProcessStopped = "process.stopped"
)

// Message pipeline events.
const (
	EventMessageReceived  = "message.received"
	EventMessageRejected  = "message.rejected"
	EventCommandHandled   = "command.handled"
	EventCacheHit         = "cache.hit"
	EventProviderCalled   = "provider.call.completed"
	EventProviderFailed   = "provider.call.failed"
	EventUsageExhausted   = "usage.exhausted"
	EventReplySent        = "reply.sent"
	EventDeliveryFailed   = "delivery.failed"
	EventCircuitOpened    = "circuit.opened"
	EventCircuitHalfOpen  = "circuit.half_open"
	EventCircuitClosed    = "circuit.closed"
	EventRetryScheduled   = "retry.scheduled"
	EventPollFailed       = "poll.failed"
	EventDuplicateUpdate  = "update.duplicate"
	EventImageSent        = "image.sent"
	EventImageFailed      = "image.failed"
	EventHistoryCleared   = "history.cleared"
	EventModelSelected    = "model.selected"
	EventMessageCompleted = "message.completed"
)

// MemoryPath selects a private in-memory database.
const MemoryPath = ":memory:"

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists. An in-memory database is pinned to a
// single connection so every query sees the same data.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" || path == MemoryPath {
		db, err := sql.Open("sqlite3", MemoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open in-memory db: %w", err)
		}
		db.SetMaxOpenConns(1)
		return db, nil
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates all tables: events, inbox, history.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);

		CREATE TABLE IF NOT EXISTS inbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			update_id INTEGER NOT NULL UNIQUE,
			chat_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			message_date INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'received',
			error TEXT,
			created_at INTEGER NOT NULL DEFAULT (unixepoch()),
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_inbox_status_id ON inbox(status, id);

		CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_history_chat_id ON history(chat_id, id);
	`)
	return err
}

// Inbox statuses.
const (
	InboxReceived = "received"
	InboxDone     = "done"
	InboxFailed   = "failed"
)

// RecordUpdate stores an inbound update. It reports false when the update
// was already recorded, so redelivered updates can be skipped.
func RecordUpdate(database *sql.DB, updateID, chatID int64, text string, date int64) (bool, error) {
	res, err := database.Exec(
		`INSERT OR IGNORE INTO inbox (update_id, chat_id, text, message_date) VALUES (?, ?, ?, ?)`,
		updateID, chatID, text, date,
	)
	if err != nil {
		return false, fmt.Errorf("insert inbox update %d: %w", updateID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkUpdate sets the final status of an inbox row.
func MarkUpdate(database *sql.DB, updateID int64, status, lastError string) error {
	_, err := database.Exec(
		`UPDATE inbox SET status = ?, error = ?, updated_at = unixepoch() WHERE update_id = ?`,
		status, nullIfEmpty(truncateForDB(lastError)), updateID,
	)
	return err
}

// DeriveOffset returns the next Telegram polling offset derived from the inbox table.
// Returns 0 if inbox is empty.
func DeriveOffset(database *sql.DB) (int64, error) {
	var offset int64
	err := database.QueryRow(`SELECT COALESCE(MAX(update_id) + 1, 0) FROM inbox`).Scan(&offset)
	return offset, err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// LatestProcessEvent returns the id of the most recent process.started event
// for role, or sql.ErrNoRows.
func LatestProcessEvent(database *sql.DB, role string) (int64, error) {
	var id int64
	err := database.QueryRow(
		`SELECT id FROM events
		 WHERE event_type = ? AND json_extract(payload, '$.role') = ?
		 ORDER BY id DESC LIMIT 1`,
		EventProcessStarted, role,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, sql.ErrNoRows
	}
	return id, err
}

// EventLog adapts LogEvent to the logger interface used by the pipeline.
type EventLog struct {
	DB *sql.DB
}

func (l *EventLog) Log(parentID *int64, eventType string, payload map[string]any) (int64, error) {
	return LogEvent(l.DB, parentID, eventType, payload)
}

func truncateForDB(s string) string {
	const max = 2000
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
