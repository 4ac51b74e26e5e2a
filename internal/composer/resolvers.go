package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/bizchat/internal/metrics"
	"github.com/kalambet/bizchat/internal/retrieval"
)

// ContextConfig is the per-turn context policy derived from the chat's
// persona. It is never persisted.
type ContextConfig struct {
	PersonaID          string
	ExcludeBusiness    bool
	IsolateRAG         bool
	IncludeChatContext bool
	RAGEnabled         bool
	KnowledgeLimit     int
	EpisodicLimit      int
}

// Request is the input shared by all resolvers for one turn.
type Request struct {
	PrincipalID string
	ChatID      string
	Query       string
	// PersonaOverride replaces the persona's stored instructions when set.
	PersonaOverride string
	Config          ContextConfig
}

// Resolver produces one section of the system prompt. ("", nil) means the
// section is absent; an error means it is omitted and logged.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, req Request) (string, error)
}

// KnowledgeSource is the retrieval surface used by RetrievalResolver.
type KnowledgeSource interface {
	RetrieveKnowledge(ctx context.Context, q retrieval.KnowledgeQuery) ([]retrieval.Snippet, error)
	RetrieveEpisodic(ctx context.Context, q retrieval.EpisodicQuery) ([]retrieval.Snippet, error)
}

// RetrievalResolver renders knowledge-base and chat-memory hits.
type RetrievalResolver struct {
	source  KnowledgeSource
	metrics *metrics.Metrics
}

func NewRetrievalResolver(source KnowledgeSource, m *metrics.Metrics) *RetrievalResolver {
	return &RetrievalResolver{source: source, metrics: m}
}

func (r *RetrievalResolver) Name() string { return "retrieval" }

// Resolve queries both pools. A failing pool is logged and skipped; an
// error is returned only when nothing at all could be rendered.
func (r *RetrievalResolver) Resolve(ctx context.Context, req Request) (string, error) {
	knowledge, kerr := r.source.RetrieveKnowledge(ctx, retrieval.KnowledgeQuery{
		Query:       req.Query,
		PrincipalID: req.PrincipalID,
		PersonaID:   req.Config.PersonaID,
		Isolated:    req.Config.IsolateRAG,
		Limit:       req.Config.KnowledgeLimit,
	})
	if kerr != nil {
		slog.Warn("knowledge retrieval failed", "chat_id", req.ChatID, "error", kerr)
		kerr = fmt.Errorf("knowledge: %w", kerr)
	}

	var episodic []retrieval.Snippet
	var eerr error
	if req.Config.IncludeChatContext && req.ChatID != "" {
		episodic, eerr = r.source.RetrieveEpisodic(ctx, retrieval.EpisodicQuery{
			Query:       req.Query,
			PrincipalID: req.PrincipalID,
			ChatID:      req.ChatID,
			Limit:       req.Config.EpisodicLimit,
		})
		if eerr != nil {
			slog.Warn("episodic retrieval failed", "chat_id", req.ChatID, "error", eerr)
			eerr = fmt.Errorf("episodic: %w", eerr)
		}
	}

	r.metrics.Hits("knowledge", len(knowledge))
	r.metrics.Hits("episodic", len(episodic))

	if len(knowledge) == 0 && len(episodic) == 0 {
		return "", errors.Join(kerr, eerr)
	}

	var parts []string
	if len(knowledge) > 0 {
		parts = append(parts, formatHits("Relevant information from the knowledge base:", knowledge))
	}
	if len(episodic) > 0 {
		parts = append(parts, formatHits("Relevant context from earlier in this conversation:", episodic))
	}
	return strings.Join(parts, "\n\n"), nil
}

func formatHits(header string, snippets []retrieval.Snippet) string {
	var b strings.Builder
	b.WriteString(header)
	for _, s := range snippets {
		fmt.Fprintf(&b, "\n- (%.0f%% match) %s", s.Similarity*100, strings.TrimSpace(s.Content))
	}
	return b.String()
}
