package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/bizchat/internal/metrics"
	"github.com/kalambet/bizchat/internal/retrieval"
	"github.com/kalambet/bizchat/internal/search"
	"github.com/kalambet/bizchat/internal/storage"
)

const (
	GetInformation = "getInformation"
	AddResource    = "addResource"
	WebSearch      = "webSearch"

	NoKnowledgeFound = "No relevant information found in the knowledge base."

	retrieveApology = "Sorry, I couldn't search the knowledge base right now."
	storeApology    = "Sorry, I couldn't save that to the knowledge base right now."
	searchApology   = "Sorry, web search is unavailable right now."
)

// KnowledgeRetriever runs general knowledge-base lookups.
type KnowledgeRetriever interface {
	RetrieveKnowledge(ctx context.Context, q retrieval.KnowledgeQuery) ([]retrieval.Snippet, error)
}

// ResourceSaver persists new resources. DeleteResource rolls back a save
// whose indexing failed.
type ResourceSaver interface {
	SaveResource(ctx context.Context, r storage.Resource) (storage.Resource, error)
	DeleteResource(ctx context.Context, id, principalID string) error
}

// ResourceIndexer chunks and embeds a stored resource.
type ResourceIndexer interface {
	Index(ctx context.Context, r storage.Resource) (int, error)
}

// Deps are the collaborators behind the tools. Search may be nil, which
// disables webSearch.
type Deps struct {
	Retriever   KnowledgeRetriever
	Resources   ResourceSaver
	Indexer     ResourceIndexer
	Search      search.Provider
	SearchCount int
	Metrics     *metrics.Metrics
}

// Options scope one turn's tools.
type Options struct {
	PrincipalID string
	PersonaID   string
	Isolated    bool
	RAGEnabled  bool
	WebSearch   bool
	Observer    Observer
}

// Assembler builds per-turn tool sets.
type Assembler struct {
	deps Deps
}

func NewAssembler(deps Deps) *Assembler {
	return &Assembler{deps: deps}
}

// SearchAvailable reports whether a web search provider is configured.
func (a *Assembler) SearchAvailable() bool {
	return a.deps.Search != nil
}

// Assemble returns the tools available for a turn. The knowledge tools are
// present when RAG is enabled; webSearch only when the turn opted in and a
// provider is configured.
func (a *Assembler) Assemble(_ context.Context, opts Options) *Set {
	var list []Tool
	if opts.RAGEnabled {
		list = append(list, a.getInformation(opts), a.addResource(opts))
	}
	if opts.WebSearch && a.deps.Search != nil {
		list = append(list, a.webSearch())
	}
	return newSet(list, opts.Observer, a.deps.Metrics)
}

func (a *Assembler) getInformation(opts Options) Tool {
	def := mcp.NewTool(GetInformation,
		mcp.WithDescription("Search the user's knowledge base for information relevant to a question."),
		mcp.WithString("query", mcp.Description("What to look up"), mcp.Required()),
	)
	return newTool(def, retrieveApology, func(ctx context.Context, args map[string]any) (string, error) {
		query := stringArg(args, "query")
		if query == "" {
			return "Error: query is required.", nil
		}
		snippets, err := a.deps.Retriever.RetrieveKnowledge(ctx, retrieval.KnowledgeQuery{
			Query:       query,
			PrincipalID: opts.PrincipalID,
			PersonaID:   opts.PersonaID,
			Isolated:    opts.Isolated,
		})
		if err != nil {
			return "", err
		}
		if len(snippets) == 0 {
			return NoKnowledgeFound, nil
		}
		return FormatSnippets(snippets), nil
	})
}

func (a *Assembler) addResource(opts Options) Tool {
	def := mcp.NewTool(AddResource,
		mcp.WithDescription("Save a piece of information to the user's knowledge base for later retrieval."),
		mcp.WithString("content", mcp.Description("The text to remember"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Optional short title")),
	)
	return newTool(def, storeApology, func(ctx context.Context, args map[string]any) (string, error) {
		content := strings.TrimSpace(stringArg(args, "content"))
		if content == "" {
			return "Error: content is required.", nil
		}
		title := stringArg(args, "title")
		res, err := a.deps.Resources.SaveResource(ctx, storage.Resource{
			PrincipalID: opts.PrincipalID,
			PersonaID:   opts.PersonaID,
			Type:        storage.ResourceText,
			Title:       title,
			Source:      "assistant",
			Content:     content,
		})
		if err != nil {
			return "", err
		}
		n, err := a.deps.Indexer.Index(ctx, res)
		if err != nil && !errors.Is(err, retrieval.ErrEmptyResource) {
			// Unindexed rows are invisible to retrieval.
			if derr := a.deps.Resources.DeleteResource(context.WithoutCancel(ctx), res.ID, res.PrincipalID); derr != nil {
				slog.Warn("removing unindexed resource failed", "resource_id", res.ID, "error", derr)
			}
			return "", err
		}
		if title == "" {
			title = "untitled"
		}
		return fmt.Sprintf("Saved %q to the knowledge base (%d chunks).", title, n), nil
	})
}

func (a *Assembler) webSearch() Tool {
	def := mcp.NewTool(WebSearch,
		mcp.WithDescription("Search the web for current information."),
		mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
	)
	return newTool(def, searchApology, func(ctx context.Context, args map[string]any) (string, error) {
		query := stringArg(args, "query")
		if query == "" {
			return "Error: query is required.", nil
		}
		results, err := a.deps.Search.Search(ctx, query, search.Options{Count: a.deps.SearchCount})
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return fmt.Sprintf("No web results found for %q.", query), nil
		}
		return search.Format(results), nil
	})
}

// FormatSnippets renders retrieved snippets with their similarity.
func FormatSnippets(snippets []retrieval.Snippet) string {
	var b strings.Builder
	for i, s := range snippets {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (%.0f%% match) %s", i+1, s.Similarity*100, s.Content)
	}
	return b.String()
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
