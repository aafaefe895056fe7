package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/session"
)

// ConversationStore implements session.Store backed by SQLite.
type ConversationStore struct {
	db *DB
}

var _ session.Store = (*ConversationStore)(nil)

// NewConversationStore creates a conversation store using the given database.
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Insert adds a conversation and any initial messages.
func (s *ConversationStore) Insert(c domain.Session) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return errors.Wrap(err, "begin insert")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO conversations (id, created_at) VALUES (?, ?)`,
		c.ID, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return session.ErrExists
		}
		return errors.Wrap(err, "insert conversation")
	}
	if err := insertMessages(tx, c.ID, c.Messages); err != nil {
		return err
	}
	return tx.Commit()
}

// Append adds messages in one transaction so a turn is never split.
func (s *ConversationStore) Append(id string, msgs ...domain.Message) (bool, error) {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return false, errors.Wrap(err, "begin append")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM conversations WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "lookup conversation")
	}
	if exists == 0 {
		return false, nil
	}
	if err := insertMessages(tx, id, msgs); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "commit append")
	}
	return true, nil
}

// Get loads a conversation with its messages in insertion order.
func (s *ConversationStore) Get(id string) (domain.Session, bool, error) {
	var createdAt string
	err := s.db.sql.QueryRow(`SELECT created_at FROM conversations WHERE id = ?`, id).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, errors.Wrap(err, "load conversation")
	}

	c := domain.Session{ID: id, Messages: []domain.Message{}}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	rows, err := s.db.sql.Query(
		`SELECT role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY id`, id,
	)
	if err != nil {
		return domain.Session{}, false, errors.Wrap(err, "load messages")
	}
	defer rows.Close()

	for rows.Next() {
		var msg domain.Message
		var ts string
		if err := rows.Scan(&msg.Role, &msg.Content, &ts); err != nil {
			return domain.Session{}, false, errors.Wrap(err, "scan message")
		}
		msg.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		c.Messages = append(c.Messages, msg)
	}
	return c, true, rows.Err()
}

// Count returns the number of stored conversations.
func (s *ConversationStore) Count() (int, error) {
	var n int
	if err := s.db.sql.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count conversations")
	}
	return n, nil
}

func insertMessages(tx *sql.Tx, id string, msgs []domain.Message) error {
	for _, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		_, err := tx.Exec(
			`INSERT INTO messages (conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			id, string(m.Role), m.Content, ts.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return errors.Wrap(err, "insert message")
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
