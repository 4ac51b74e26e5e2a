package retrieval

import (
	"context"

	"github.com/kalambet/bizchat/internal/storage"
)

// Scope is the isolation rule applied to knowledge retrieval.
type Scope int

const (
	// Unscoped searches every resource of the principal.
	Unscoped Scope = iota
	// ScopedWithFallback searches the persona's resources plus the
	// principal's resources that have no persona.
	ScopedWithFallback
	// ScopedIsolated searches only the persona's resources.
	ScopedIsolated
)

func (s Scope) String() string {
	switch s {
	case ScopedWithFallback:
		return "scoped_with_fallback"
	case ScopedIsolated:
		return "scoped_isolated"
	default:
		return "unscoped"
	}
}

// Policy pairs a Scope with the persona it applies to.
type Policy struct {
	Scope     Scope
	PersonaID string
}

// ResolvePolicy maps a persona reference and its isolation flag to a Policy.
func ResolvePolicy(personaID string, isolated bool) Policy {
	switch {
	case personaID == "":
		return Policy{Scope: Unscoped}
	case isolated:
		return Policy{Scope: ScopedIsolated, PersonaID: personaID}
	default:
		return Policy{Scope: ScopedWithFallback, PersonaID: personaID}
	}
}

// ResourceLister resolves resource queries to IDs. *storage.Store implements it.
type ResourceLister interface {
	ResourceIDs(ctx context.Context, q storage.ResourceQuery) ([]string, error)
}

// Candidates resolves the policy into the knowledge resources a search may
// touch. Extracted chat memory is never a knowledge candidate; it is only
// reachable through episodic retrieval of its own chat. The result is
// never nil.
func (p Policy) Candidates(ctx context.Context, lister ResourceLister, principalID string) ([]string, error) {
	q := storage.ResourceQuery{
		PrincipalID: principalID,
		ExcludeType: storage.ResourceChatContext,
	}
	if p.Scope != Unscoped {
		q.PersonaID = p.PersonaID
		q.IncludeUnscoped = p.Scope == ScopedWithFallback
	}
	ids, err := lister.ResourceIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
