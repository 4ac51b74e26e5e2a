package composer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/bizchat/internal/retrieval"
)

type mockResolver struct {
	name    string
	resolve func(ctx context.Context, req Request) (string, error)
	calls   atomic.Int32
}

func (m *mockResolver) Name() string { return m.name }
func (m *mockResolver) Resolve(ctx context.Context, req Request) (string, error) {
	m.calls.Add(1)
	return m.resolve(ctx, req)
}

func fixed(name, out string, err error) *mockResolver {
	return &mockResolver{name: name, resolve: func(context.Context, Request) (string, error) { return out, err }}
}

func TestBuild_OrderIndependentOfCompletion(t *testing.T) {
	slow := &mockResolver{name: "persona", resolve: func(context.Context, Request) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "You are a bookkeeping assistant.", nil
	}}
	b := NewBuilder(slow, fixed("business", "The business is Acme.", nil), fixed("retrieval", "Knowledge block.", nil), nil)

	got := b.Build(context.Background(), Request{Config: ContextConfig{RAGEnabled: true}})
	want := "You are a bookkeeping assistant.\n\nThe business is Acme.\n\nKnowledge block.\n\n" + FormattingDirective
	if got != want {
		t.Errorf("Build =\n%q\nwant\n%q", got, want)
	}
}

func TestBuild_FailuresAndAbsenceOmitted(t *testing.T) {
	b := NewBuilder(
		fixed("persona", "", nil),
		fixed("business", "ignored", errors.New("db locked")),
		fixed("retrieval", "Knowledge block.", nil),
		nil,
	)
	got := b.Build(context.Background(), Request{Config: ContextConfig{RAGEnabled: true}})
	if got != "Knowledge block.\n\n"+FormattingDirective {
		t.Errorf("Build = %q", got)
	}
}

func TestBuild_DirectiveAlwaysPresent(t *testing.T) {
	got := NewBuilder(nil, nil, nil, nil).Build(context.Background(), Request{})
	if got != FormattingDirective {
		t.Errorf("Build = %q", got)
	}
}

func TestBuild_ConfigSkipsResolvers(t *testing.T) {
	business := fixed("business", "The business is Acme.", nil)
	rag := fixed("retrieval", "Knowledge.", nil)
	b := NewBuilder(nil, business, rag, nil)

	got := b.Build(context.Background(), Request{Config: ContextConfig{ExcludeBusiness: true}})
	if business.calls.Load() != 0 || rag.calls.Load() != 0 {
		t.Errorf("calls business=%d retrieval=%d, want none", business.calls.Load(), rag.calls.Load())
	}
	if strings.Contains(got, "Acme") {
		t.Error("excluded business section present")
	}
}

type mockSource struct {
	knowledge    []retrieval.Snippet
	knowledgeErr error
	episodic     []retrieval.Snippet
	episodicErr  error
	gotKnowledge retrieval.KnowledgeQuery
	episodicHit  bool
}

func (m *mockSource) RetrieveKnowledge(_ context.Context, q retrieval.KnowledgeQuery) ([]retrieval.Snippet, error) {
	m.gotKnowledge = q
	return m.knowledge, m.knowledgeErr
}

func (m *mockSource) RetrieveEpisodic(context.Context, retrieval.EpisodicQuery) ([]retrieval.Snippet, error) {
	m.episodicHit = true
	return m.episodic, m.episodicErr
}

func TestRetrievalResolver_Format(t *testing.T) {
	src := &mockSource{
		knowledge: []retrieval.Snippet{{Content: "Invoices are due in 14 days.", Similarity: 0.876}},
		episodic:  []retrieval.Snippet{{Content: "User chose quarterly billing.", Similarity: 0.65}},
	}
	r := NewRetrievalResolver(src, nil)
	got, err := r.Resolve(context.Background(), Request{
		PrincipalID: "u1",
		ChatID:      "c1",
		Query:       "when are invoices due",
		Config:      ContextConfig{PersonaID: "p1", IsolateRAG: true, IncludeChatContext: true, KnowledgeLimit: 3},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "Relevant information from the knowledge base:\n- (88% match) Invoices are due in 14 days.\n\n" +
		"Relevant context from earlier in this conversation:\n- (65% match) User chose quarterly billing."
	if got != want {
		t.Errorf("Resolve =\n%q\nwant\n%q", got, want)
	}
	q := src.gotKnowledge
	if q.PersonaID != "p1" || !q.Isolated || q.Limit != 3 || q.PrincipalID != "u1" {
		t.Errorf("knowledge query = %+v", q)
	}
}

func TestRetrievalResolver_EpisodicDisabled(t *testing.T) {
	src := &mockSource{}
	got, err := NewRetrievalResolver(src, nil).Resolve(context.Background(), Request{ChatID: "c1"})
	if got != "" || err != nil {
		t.Errorf("Resolve = %q, %v; want absent", got, err)
	}
	if src.episodicHit {
		t.Error("episodic retrieval ran without IncludeChatContext")
	}
}

func TestRetrievalResolver_PartialFailure(t *testing.T) {
	src := &mockSource{
		knowledgeErr: errors.New("embedder down"),
		episodic:     []retrieval.Snippet{{Content: "Earlier decision.", Similarity: 0.7}},
	}
	got, err := NewRetrievalResolver(src, nil).Resolve(context.Background(), Request{
		ChatID: "c1",
		Config: ContextConfig{IncludeChatContext: true},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !strings.Contains(got, "Earlier decision.") {
		t.Errorf("Resolve = %q", got)
	}

	src.episodic = nil
	if _, err := NewRetrievalResolver(src, nil).Resolve(context.Background(), Request{ChatID: "c1", Config: ContextConfig{IncludeChatContext: true}}); err == nil {
		t.Error("expected error when nothing could be retrieved and a pool failed")
	}
}
