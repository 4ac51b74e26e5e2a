// Package persona resolves assistant personas into prompt instructions and
// per-turn context policy.
package persona

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kalambet/bizchat/internal/composer"
	"github.com/kalambet/bizchat/internal/storage"
)

// Store loads personas. Implemented by storage.Store.
type Store interface {
	GetPersona(ctx context.Context, id string) (storage.Persona, error)
}

// Defaults are the deployment-wide settings merged into every ContextConfig.
type Defaults struct {
	RAGEnabled         bool
	IncludeChatContext bool
	KnowledgeLimit     int
	EpisodicLimit      int
}

// ResolveConfig builds the turn's ContextConfig. The persona's exclusion
// and isolation flags are copied when it can be loaded; a missing persona
// or failed lookup leaves both false.
func ResolveConfig(ctx context.Context, store Store, principalID, personaID string, d Defaults) composer.ContextConfig {
	cfg := composer.ContextConfig{
		PersonaID:          personaID,
		RAGEnabled:         d.RAGEnabled,
		IncludeChatContext: d.IncludeChatContext,
		KnowledgeLimit:     d.KnowledgeLimit,
		EpisodicLimit:      d.EpisodicLimit,
	}
	if personaID == "" {
		return cfg
	}

	p, err := lookup(ctx, store, principalID, personaID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("persona lookup failed, using permissive context", "persona_id", personaID, "error", err)
		}
		return cfg
	}
	cfg.ExcludeBusiness = p.ExcludeBusinessContext
	cfg.IsolateRAG = p.IsolateRAGContext
	return cfg
}

// lookup loads a persona owned by principalID.
func lookup(ctx context.Context, store Store, principalID, personaID string) (storage.Persona, error) {
	p, err := store.GetPersona(ctx, personaID)
	if err != nil {
		return storage.Persona{}, err
	}
	if p.PrincipalID != principalID {
		return storage.Persona{}, storage.ErrNotFound
	}
	return p, nil
}

// Resolver supplies the persona section of the system prompt: the request's
// override, else the persona's stored instructions.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Name() string { return "persona" }

func (r *Resolver) Resolve(ctx context.Context, req composer.Request) (string, error) {
	if s := strings.TrimSpace(req.PersonaOverride); s != "" {
		return s, nil
	}
	if req.Config.PersonaID == "" {
		return "", nil
	}
	p, err := lookup(ctx, r.store, req.PrincipalID, req.Config.PersonaID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(p.Instructions), nil
}
