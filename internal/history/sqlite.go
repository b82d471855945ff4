package history

import (
	"database/sql"
	"fmt"
	"sync"
)

// SQLiteStore keeps history in the "history" table created by db.InitSchema.
type SQLiteStore struct {
	DB        *sql.DB
	Retention int

	mu sync.Mutex
}

// NewSQLiteStore wraps an initialised database.
func NewSQLiteStore(db *sql.DB, retention int) *SQLiteStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SQLiteStore{DB: db, Retention: retention}
}

func (s *SQLiteStore) Append(userID int64, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("begin history append: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if _, err := tx.Exec(
			"INSERT INTO history (chat_id, role, text) VALUES (?, ?, ?)",
			userID, m.Role, m.Content,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	if _, err := tx.Exec(
		`DELETE FROM history WHERE chat_id = ? AND id NOT IN (
			SELECT id FROM history WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		)`,
		userID, userID, s.Retention,
	); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return tx.Commit()
}

// Recent returns the most recent k messages for the user, ordered
// chronologically (oldest first).
func (s *SQLiteStore) Recent(userID int64, k int) ([]Message, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(
		"SELECT role, text FROM history WHERE chat_id = ? ORDER BY id DESC LIMIT ?",
		userID, k,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, err
		}
		mapped := RoleUser
		if role == RoleAssistant {
			mapped = RoleAssistant
		}
		results = append(results, Message{Role: mapped, Content: text})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

func (s *SQLiteStore) Clear(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.DB.Exec("DELETE FROM history WHERE chat_id = ?", userID)
	return err
}
