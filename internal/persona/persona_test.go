package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/bizchat/internal/composer"
	"github.com/kalambet/bizchat/internal/storage"
)

type mockStore struct {
	personas map[string]storage.Persona
	err      error
	calls    int
}

func (m *mockStore) GetPersona(_ context.Context, id string) (storage.Persona, error) {
	m.calls++
	if m.err != nil {
		return storage.Persona{}, m.err
	}
	p, ok := m.personas[id]
	if !ok {
		return storage.Persona{}, storage.ErrNotFound
	}
	return p, nil
}

func newStore() *mockStore {
	return &mockStore{personas: map[string]storage.Persona{
		"accountant": {
			ID:                     "accountant",
			PrincipalID:            "u1",
			Instructions:           "  You are a meticulous accountant.  ",
			ExcludeBusinessContext: true,
			IsolateRAGContext:      true,
		},
	}}
}

var defaults = Defaults{RAGEnabled: true, IncludeChatContext: true, KnowledgeLimit: 5, EpisodicLimit: 2}

func TestResolveConfig(t *testing.T) {
	tests := []struct {
		name        string
		store       *mockStore
		principal   string
		persona     string
		wantExclude bool
		wantIsolate bool
	}{
		{"no persona", newStore(), "u1", "", false, false},
		{"persona flags", newStore(), "u1", "accountant", true, true},
		{"missing persona", newStore(), "u1", "ghost", false, false},
		{"foreign persona", newStore(), "u2", "accountant", false, false},
		{"lookup failure", &mockStore{err: errors.New("disk I/O error")}, "u1", "accountant", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ResolveConfig(context.Background(), tt.store, tt.principal, tt.persona, defaults)
			if cfg.ExcludeBusiness != tt.wantExclude || cfg.IsolateRAG != tt.wantIsolate {
				t.Errorf("cfg = %+v", cfg)
			}
			if cfg.PersonaID != tt.persona || !cfg.RAGEnabled || cfg.KnowledgeLimit != 5 || cfg.EpisodicLimit != 2 {
				t.Errorf("defaults not carried: %+v", cfg)
			}
		})
	}
}

func TestResolveConfig_NoPersonaSkipsLookup(t *testing.T) {
	store := newStore()
	ResolveConfig(context.Background(), store, "u1", "", defaults)
	if store.calls != 0 {
		t.Errorf("store called %d times without a persona", store.calls)
	}
}

func TestResolver(t *testing.T) {
	r := NewResolver(newStore())
	tests := []struct {
		name string
		req  composer.Request
		want string
	}{
		{"override wins", composer.Request{PrincipalID: "u1", PersonaOverride: "Be a pirate.", Config: composer.ContextConfig{PersonaID: "accountant"}}, "Be a pirate."},
		{"stored instructions", composer.Request{PrincipalID: "u1", Config: composer.ContextConfig{PersonaID: "accountant"}}, "You are a meticulous accountant."},
		{"no persona", composer.Request{PrincipalID: "u1"}, ""},
		{"missing persona", composer.Request{PrincipalID: "u1", Config: composer.ContextConfig{PersonaID: "ghost"}}, ""},
		{"foreign persona", composer.Request{PrincipalID: "u2", Config: composer.ContextConfig{PersonaID: "accountant"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_StoreError(t *testing.T) {
	r := NewResolver(&mockStore{err: errors.New("disk I/O error")})
	_, err := r.Resolve(context.Background(), composer.Request{Config: composer.ContextConfig{PersonaID: "x"}})
	if err == nil {
		t.Error("expected error to be reported to the builder")
	}
}
