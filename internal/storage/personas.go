package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// --- Personas ---

func (s *Store) SavePersona(ctx context.Context, p Persona) (Persona, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO personas (id, principal_id, name, instructions, exclude_business_context, isolate_rag_context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			instructions = excluded.instructions,
			exclude_business_context = excluded.exclude_business_context,
			isolate_rag_context = excluded.isolate_rag_context`,
		p.ID, p.PrincipalID, p.Name, p.Instructions, p.ExcludeBusinessContext, p.IsolateRAGContext,
		p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Persona{}, err
	}
	return p, nil
}

func (s *Store) GetPersona(ctx context.Context, id string) (Persona, error) {
	var p Persona
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, principal_id, name, instructions, exclude_business_context, isolate_rag_context, created_at
		FROM personas WHERE id = ?`, id,
	).Scan(&p.ID, &p.PrincipalID, &p.Name, &p.Instructions, &p.ExcludeBusinessContext, &p.IsolateRAGContext, &createdAt)
	if err == sql.ErrNoRows {
		return Persona{}, ErrNotFound
	}
	if err != nil {
		return Persona{}, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return p, nil
}

// --- Business profiles ---

func (s *Store) SaveBusinessProfile(ctx context.Context, b BusinessProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO business_profiles (principal_id, name, type, size, description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			size = excluded.size,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		b.PrincipalID, b.Name, b.Type, b.Size, b.Description, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetBusinessProfile(ctx context.Context, principalID string) (BusinessProfile, error) {
	var b BusinessProfile
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, name, type, size, description, updated_at
		FROM business_profiles WHERE principal_id = ?`, principalID,
	).Scan(&b.PrincipalID, &b.Name, &b.Type, &b.Size, &b.Description, &updatedAt)
	if err == sql.ErrNoRows {
		return BusinessProfile{}, ErrNotFound
	}
	if err != nil {
		return BusinessProfile{}, err
	}
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return b, nil
}
