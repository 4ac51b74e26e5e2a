package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/bizchat/internal/retrieval"
	"github.com/kalambet/bizchat/internal/search"
	"github.com/kalambet/bizchat/internal/storage"
)

type mockRetriever struct {
	fn func(ctx context.Context, q retrieval.KnowledgeQuery) ([]retrieval.Snippet, error)
}

func (m *mockRetriever) RetrieveKnowledge(ctx context.Context, q retrieval.KnowledgeQuery) ([]retrieval.Snippet, error) {
	return m.fn(ctx, q)
}

type mockResources struct {
	saved []storage.Resource
	err   error
}

func (m *mockResources) SaveResource(_ context.Context, r storage.Resource) (storage.Resource, error) {
	if m.err != nil {
		return storage.Resource{}, m.err
	}
	r.ID = "res-1"
	m.saved = append(m.saved, r)
	return r, nil
}

func (m *mockResources) DeleteResource(context.Context, string, string) error {
	return nil
}

type mockIndexer struct {
	indexed []string
	err     error
}

func (m *mockIndexer) Index(_ context.Context, r storage.Resource) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.indexed = append(m.indexed, r.ID)
	return 2, nil
}

type mockSearch struct {
	results []search.Result
	err     error
}

func (m *mockSearch) Name() string { return "mock" }
func (m *mockSearch) Search(context.Context, string, search.Options) ([]search.Result, error) {
	return m.results, m.err
}

func names(s *Set) []string {
	var out []string
	for _, t := range s.Tools() {
		out = append(out, t.Name)
	}
	return out
}

func TestAssemble_Conditional(t *testing.T) {
	a := NewAssembler(Deps{Search: &mockSearch{}})

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"nothing", Options{}, ""},
		{"rag", Options{RAGEnabled: true}, "getInformation,addResource"},
		{"web only", Options{WebSearch: true}, "webSearch"},
		{"all", Options{RAGEnabled: true, WebSearch: true}, "getInformation,addResource,webSearch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(names(a.Assemble(context.Background(), tt.opts)), ",")
			if got != tt.want {
				t.Errorf("tools = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAssemble_NoSearchProvider(t *testing.T) {
	a := NewAssembler(Deps{})
	if s := a.Assemble(context.Background(), Options{WebSearch: true}); s.Has(WebSearch) {
		t.Error("webSearch offered without a provider")
	}
	if a.SearchAvailable() {
		t.Error("SearchAvailable() = true without a provider")
	}
	if !NewAssembler(Deps{Search: &mockSearch{}}).SearchAvailable() {
		t.Error("SearchAvailable() = false with a provider")
	}
}

func TestCall_ObserverRunsFirst(t *testing.T) {
	var order []string
	a := NewAssembler(Deps{Retriever: &mockRetriever{fn: func(context.Context, retrieval.KnowledgeQuery) ([]retrieval.Snippet, error) {
		order = append(order, "execute")
		return nil, nil
	}}})
	set := a.Assemble(context.Background(), Options{
		RAGEnabled: true,
		Observer: func(name string, args map[string]any) {
			order = append(order, "observe:"+name+":"+args["query"].(string))
		},
	})

	set.Call(context.Background(), GetInformation, map[string]any{"query": "refund policy"})
	if strings.Join(order, ",") != "observe:getInformation:refund policy,execute" {
		t.Errorf("order = %v", order)
	}
}

func TestGetInformation(t *testing.T) {
	var got retrieval.KnowledgeQuery
	a := NewAssembler(Deps{Retriever: &mockRetriever{fn: func(_ context.Context, q retrieval.KnowledgeQuery) ([]retrieval.Snippet, error) {
		got = q
		return []retrieval.Snippet{{Content: "Refunds within 30 days.", Similarity: 0.91}}, nil
	}}})
	set := a.Assemble(context.Background(), Options{PrincipalID: "u1", PersonaID: "p1", Isolated: true, RAGEnabled: true})

	out := set.Call(context.Background(), GetInformation, map[string]any{"query": "refunds"})
	if out != "[1] (91% match) Refunds within 30 days." {
		t.Errorf("out = %q", out)
	}
	if got.PrincipalID != "u1" || got.PersonaID != "p1" || !got.Isolated {
		t.Errorf("query scope = %+v", got)
	}
}

func TestGetInformation_EmptyAndError(t *testing.T) {
	var fail bool
	a := NewAssembler(Deps{Retriever: &mockRetriever{fn: func(context.Context, retrieval.KnowledgeQuery) ([]retrieval.Snippet, error) {
		if fail {
			return nil, errors.New("embedding service down")
		}
		return nil, nil
	}}})
	set := a.Assemble(context.Background(), Options{RAGEnabled: true})

	if out := set.Call(context.Background(), GetInformation, map[string]any{"query": "x"}); out != NoKnowledgeFound {
		t.Errorf("empty result = %q", out)
	}
	fail = true
	if out := set.Call(context.Background(), GetInformation, map[string]any{"query": "x"}); out != retrieveApology {
		t.Errorf("failure result = %q, want apology", out)
	}
}

func TestAddResource(t *testing.T) {
	res := &mockResources{}
	ix := &mockIndexer{}
	a := NewAssembler(Deps{Resources: res, Indexer: ix})
	set := a.Assemble(context.Background(), Options{PrincipalID: "u1", PersonaID: "p1", RAGEnabled: true})

	out := set.Call(context.Background(), AddResource, map[string]any{"content": "Office closes at 6pm.", "title": "Hours"})
	if !strings.Contains(out, `Saved "Hours"`) {
		t.Errorf("out = %q", out)
	}
	if len(res.saved) != 1 || res.saved[0].PrincipalID != "u1" || res.saved[0].PersonaID != "p1" {
		t.Fatalf("saved = %+v", res.saved)
	}
	if len(ix.indexed) != 1 || ix.indexed[0] != "res-1" {
		t.Errorf("indexed = %v", ix.indexed)
	}

	res.err = errors.New("disk full")
	if out := set.Call(context.Background(), AddResource, map[string]any{"content": "x"}); out != storeApology {
		t.Errorf("failure result = %q", out)
	}
}

func TestAddResource_IndexFailureLeavesNoRow(t *testing.T) {
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	a := NewAssembler(Deps{Resources: st, Indexer: &mockIndexer{err: errors.New("embedding service down")}})
	set := a.Assemble(context.Background(), Options{PrincipalID: "u1", RAGEnabled: true})

	if out := set.Call(context.Background(), AddResource, map[string]any{"content": "Office closes at 6pm."}); out != storeApology {
		t.Errorf("out = %q, want apology", out)
	}
	list, err := st.ListResources(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("resources stored after failed indexing: %d", len(list))
	}
}

func TestWebSearch(t *testing.T) {
	s := &mockSearch{}
	set := NewAssembler(Deps{Search: s}).Assemble(context.Background(), Options{WebSearch: true})

	if out := set.Call(context.Background(), WebSearch, map[string]any{"query": "eu vat"}); out != `No web results found for "eu vat".` {
		t.Errorf("empty = %q", out)
	}

	s.results = []search.Result{{Title: "VAT", URL: "https://vat.example"}}
	if out := set.Call(context.Background(), WebSearch, map[string]any{"query": "eu vat"}); !strings.HasPrefix(out, "1. VAT") {
		t.Errorf("results = %q", out)
	}

	s.err = errors.New("timeout")
	if out := set.Call(context.Background(), WebSearch, map[string]any{"query": "eu vat"}); out != searchApology {
		t.Errorf("failure = %q", out)
	}
}

func TestCall_UnknownTool(t *testing.T) {
	var observed string
	set := NewAssembler(Deps{}).Assemble(context.Background(), Options{Observer: func(name string, _ map[string]any) { observed = name }})
	out := set.Call(context.Background(), "deleteEverything", nil)
	if !strings.Contains(out, "unknown tool") {
		t.Errorf("out = %q", out)
	}
	if observed != "deleteEverything" {
		t.Errorf("observer saw %q", observed)
	}

	var nilSet *Set
	if out := nilSet.Call(context.Background(), GetInformation, nil); !strings.Contains(out, "unknown tool") {
		t.Errorf("nil set = %q", out)
	}
}

func TestTool_MCPDescriptor(t *testing.T) {
	set := NewAssembler(Deps{}).Assemble(context.Background(), Options{RAGEnabled: true})
	def := set.Tools()[0].MCP()
	if def.Name != GetInformation || def.InputSchema.Type != "object" {
		t.Errorf("descriptor = %+v", def)
	}
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "query" {
		t.Errorf("required = %v", def.InputSchema.Required)
	}
}
