package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// maxAppendAttempts bounds the number of sequence collisions AppendTurn
// tolerates before giving up with ErrConflict.
const maxAppendAttempts = 5

// CreateChat inserts a new chat. ID and timestamps are filled in when empty.
func (s *Store) CreateChat(ctx context.Context, c Chat) (Chat, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, principal_id, persona_id, folder_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PrincipalID, c.PersonaID, c.FolderID, c.Title,
		c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Chat{}, fmt.Errorf("inserting chat: %w", err)
	}
	return c, nil
}

// GetChat loads a chat with its turns (ordered by sequence) and session
// context. A chat owned by a different principal is reported as ErrNotFound.
func (s *Store) GetChat(ctx context.Context, id, principalID string) (Chat, error) {
	var c Chat
	var topic, decisions, sessionUpdated, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, principal_id, persona_id, folder_id, title, session_topic, session_decisions, session_updated_at, created_at, updated_at
		FROM chats WHERE id = ? AND principal_id = ?`, id, principalID,
	).Scan(&c.ID, &c.PrincipalID, &c.PersonaID, &c.FolderID, &c.Title, &topic, &decisions, &sessionUpdated, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("querying chat %s: %w", id, err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	sc, err := decodeSession(topic, decisions, sessionUpdated)
	if err != nil {
		return Chat{}, fmt.Errorf("decoding session for chat %s: %w", id, err)
	}
	c.Session = sc

	c.Turns, err = s.listTurns(ctx, id)
	if err != nil {
		return Chat{}, err
	}
	return c, nil
}

// ListChats returns the principal's chats, most recently updated first,
// without their turns.
func (s *Store) ListChats(ctx context.Context, principalID string, limit int) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, principal_id, persona_id, folder_id, title, created_at, updated_at
		FROM chats WHERE principal_id = ? ORDER BY updated_at DESC LIMIT ?`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.PrincipalID, &c.PersonaID, &c.FolderID, &c.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *Store) listTurns(ctx context.Context, chatID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, seq, question, answer, attachment_kind, attachment_name, created_at, updated_at
		FROM turns WHERE chat_id = ? ORDER BY seq ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var kind, name, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Seq, &t.Question, &t.Answer, &kind, &name, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if kind != "" || name != "" {
			t.Attachment = &Attachment{Kind: kind, Name: name}
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurn stores t as the next turn of the chat. The sequence number is
// derived inside the insert statement and guarded by UNIQUE(chat_id, seq);
// when another process claims the same slot the insert is retried at the
// next free sequence, so neither turn is lost.
func (s *Store) AppendTurn(ctx context.Context, chatID string, t Turn) (Turn, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.ChatID = chatID
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	var kind, name string
	if t.Attachment != nil {
		kind, name = t.Attachment.Kind, t.Attachment.Name
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO turns (id, chat_id, seq, question, answer, attachment_kind, attachment_name, created_at, updated_at)
			SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?
			FROM turns WHERE chat_id = ?`,
			t.ID, chatID, t.Question, t.Answer, kind, name,
			t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339), chatID,
		)
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return Turn{}, fmt.Errorf("inserting turn: %w", err)
		}

		if err := s.db.QueryRowContext(ctx, `SELECT seq FROM turns WHERE id = ?`, t.ID).Scan(&t.Seq); err != nil {
			return Turn{}, fmt.Errorf("reading turn sequence: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`, now.Format(time.RFC3339), chatID); err != nil {
			return Turn{}, fmt.Errorf("touching chat: %w", err)
		}
		return t, nil
	}
	return Turn{}, fmt.Errorf("appending turn to chat %s: %w", chatID, ErrConflict)
}

// UpdateSessionContext merges topic and decisions into the chat's stored
// session context and returns the result.
func (s *Store) UpdateSessionContext(ctx context.Context, chatID, topic string, decisions []string) (SessionContext, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SessionContext{}, fmt.Errorf("beginning session transaction: %w", err)
	}
	defer tx.Rollback()

	var curTopic, curDecisions, curUpdated string
	err = tx.QueryRowContext(ctx, `SELECT session_topic, session_decisions, session_updated_at FROM chats WHERE id = ?`, chatID).
		Scan(&curTopic, &curDecisions, &curUpdated)
	if err == sql.ErrNoRows {
		return SessionContext{}, ErrNotFound
	}
	if err != nil {
		return SessionContext{}, err
	}

	cur, err := decodeSession(curTopic, curDecisions, curUpdated)
	if err != nil {
		return SessionContext{}, err
	}
	if cur == nil {
		cur = &SessionContext{}
	}

	next := cur.Merge(topic, decisions, time.Now().UTC())
	encoded, err := json.Marshal(next.KeyDecisions)
	if err != nil {
		return SessionContext{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET session_topic = ?, session_decisions = ?, session_updated_at = ? WHERE id = ?`,
		next.Topic, string(encoded), next.UpdatedAt.Format(time.RFC3339), chatID,
	); err != nil {
		return SessionContext{}, fmt.Errorf("updating session: %w", err)
	}
	return next, tx.Commit()
}

func decodeSession(topic, decisions, updatedAt string) (*SessionContext, error) {
	if updatedAt == "" {
		return nil, nil
	}
	sc := &SessionContext{Topic: topic}
	if decisions != "" {
		if err := json.Unmarshal([]byte(decisions), &sc.KeyDecisions); err != nil {
			return nil, err
		}
	}
	if len(sc.KeyDecisions) > MaxKeyDecisions {
		sc.KeyDecisions = sc.KeyDecisions[len(sc.KeyDecisions)-MaxKeyDecisions:]
	}
	sc.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return sc, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// The primary code is reported when extended result codes are off.
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}
