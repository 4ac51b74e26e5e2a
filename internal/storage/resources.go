package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResourceQuery selects resource IDs belonging to one principal.
// Zero-valued fields do not restrict the result.
type ResourceQuery struct {
	PrincipalID string
	// PersonaID limits results to resources scoped to that persona.
	PersonaID string
	// IncludeUnscoped widens a PersonaID query to resources with no persona.
	IncludeUnscoped bool
	ChatID          string
	Type            string
	// ExcludeType drops resources of that type.
	ExcludeType string
}

// SaveResource inserts a resource. ID, Type and CreatedAt are defaulted.
func (s *Store) SaveResource(ctx context.Context, r Resource) (Resource, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Type == "" {
		r.Type = ResourceText
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (id, principal_id, persona_id, chat_id, type, title, source, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PrincipalID, r.PersonaID, r.ChatID, r.Type, r.Title, r.Source, r.Content,
		r.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Resource{}, fmt.Errorf("inserting resource: %w", err)
	}
	return r, nil
}

func (s *Store) GetResource(ctx context.Context, id string) (Resource, error) {
	var r Resource
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, principal_id, persona_id, chat_id, type, title, source, content, created_at
		FROM resources WHERE id = ?`, id,
	).Scan(&r.ID, &r.PrincipalID, &r.PersonaID, &r.ChatID, &r.Type, &r.Title, &r.Source, &r.Content, &createdAt)
	if err == sql.ErrNoRows {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, err
	}
	r.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Resource{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return r, nil
}

// DeleteResource removes a principal's resource together with its embeddings.
func (s *Store) DeleteResource(ctx context.Context, id, principalID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_vectors WHERE resource_id = ? AND principal_id = ?`, id, principalID); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id = ? AND principal_id = ?`, id, principalID)
	if err != nil {
		return fmt.Errorf("deleting resource: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ListResources returns the principal's resources, newest first.
func (s *Store) ListResources(ctx context.Context, principalID string, limit int) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, principal_id, persona_id, chat_id, type, title, source, content, created_at
		FROM resources WHERE principal_id = ? ORDER BY created_at DESC LIMIT ?`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var r Resource
		var createdAt string
		if err := rows.Scan(&r.ID, &r.PrincipalID, &r.PersonaID, &r.ChatID, &r.Type, &r.Title, &r.Source, &r.Content, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResourceIDs returns the IDs of resources matching q. The result is never
// nil so callers can tell an empty match from "no restriction".
func (s *Store) ResourceIDs(ctx context.Context, q ResourceQuery) ([]string, error) {
	var where []string
	var args []any

	where = append(where, "principal_id = ?")
	args = append(args, q.PrincipalID)

	if q.PersonaID != "" {
		if q.IncludeUnscoped {
			where = append(where, "(persona_id = ? OR persona_id = '')")
		} else {
			where = append(where, "persona_id = ?")
		}
		args = append(args, q.PersonaID)
	}
	if q.ChatID != "" {
		where = append(where, "chat_id = ?")
		args = append(args, q.ChatID)
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.ExcludeType != "" {
		where = append(where, "type <> ?")
		args = append(args, q.ExcludeType)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM resources WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("querying resource ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
