package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/bizchat/internal/storage"
)

const (
	// KnowledgeMinScore is the similarity floor for curated knowledge.
	KnowledgeMinScore = 0.70
	// EpisodicMinScore is the lower floor for auto-extracted chat memory.
	EpisodicMinScore = 0.60

	DefaultKnowledgeLimit = 5
	DefaultEpisodicLimit  = 2

	// overFetch multiplies the limit to leave room for the similarity floor.
	overFetch = 10
)

// Snippet is one retrieved chunk.
type Snippet struct {
	Content    string
	ResourceID string
	Similarity float32
}

// KnowledgeQuery describes a general knowledge-base lookup.
type KnowledgeQuery struct {
	Query       string
	PrincipalID string
	PersonaID   string
	Isolated    bool
	Limit       int
}

// EpisodicQuery describes a lookup of memory extracted from one chat.
type EpisodicQuery struct {
	Query       string
	PrincipalID string
	ChatID      string
	Limit       int
}

// Retriever combines embedding, resource scoping and vector search.
type Retriever struct {
	embedder  *Embedder
	store     VectorStore
	resources ResourceLister
}

// NewRetriever creates a Retriever backed by the given Embedder, VectorStore
// and resource index.
func NewRetriever(embedder *Embedder, store VectorStore, resources ResourceLister) *Retriever {
	return &Retriever{embedder: embedder, store: store, resources: resources}
}

// RetrieveKnowledge returns knowledge-base snippets at or above
// KnowledgeMinScore, most similar first, honouring the persona isolation
// policy. chat_context resources are excluded.
func (r *Retriever) RetrieveKnowledge(ctx context.Context, q KnowledgeQuery) ([]Snippet, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultKnowledgeLimit
	}

	policy := ResolvePolicy(q.PersonaID, q.Isolated)
	candidates, err := policy.Candidates(ctx, r.resources, q.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("resolving %s candidates: %w", policy.Scope, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	return r.search(ctx, q.Query, Filter{PrincipalID: q.PrincipalID, ResourceIDs: candidates}, limit, KnowledgeMinScore)
}

// RetrieveEpisodic returns chat_context snippets from the given chat at or
// above EpisodicMinScore. Chats without extracted memory return
// immediately without embedding the query.
func (r *Retriever) RetrieveEpisodic(ctx context.Context, q EpisodicQuery) ([]Snippet, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultEpisodicLimit
	}

	candidates, err := r.resources.ResourceIDs(ctx, storage.ResourceQuery{
		PrincipalID: q.PrincipalID,
		ChatID:      q.ChatID,
		Type:        storage.ResourceChatContext,
	})
	if err != nil {
		return nil, fmt.Errorf("listing chat context resources: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	return r.search(ctx, q.Query, Filter{PrincipalID: q.PrincipalID, ResourceIDs: candidates}, limit, EpisodicMinScore)
}

func (r *Retriever) search(ctx context.Context, query string, filter Filter, limit int, floor float32) ([]Snippet, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, vec, limit*overFetch, filter)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	var out []Snippet
	for _, s := range scored {
		if s.Score < floor {
			continue
		}
		out = append(out, Snippet{Content: s.TextChunk, ResourceID: s.ResourceID, Similarity: s.Score})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
