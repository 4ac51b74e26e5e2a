// Package composer assembles the system prompt and message history sent to
// the model for a chat turn.
package composer

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/bizchat/internal/metrics"
)

// FormattingDirective closes every system prompt.
const FormattingDirective = "Format responses in Markdown. Keep paragraphs short, use lists for steps or options, and do not invent facts that are not supported by the context above."

// Builder runs the persona, business and retrieval resolvers and merges
// their sections. Any resolver may be nil.
type Builder struct {
	persona   Resolver
	business  Resolver
	retrieval Resolver
	metrics   *metrics.Metrics
}

func NewBuilder(persona, business, retrieval Resolver, m *metrics.Metrics) *Builder {
	return &Builder{persona: persona, business: business, retrieval: retrieval, metrics: m}
}

// Build resolves all sections concurrently and joins the non-empty ones in
// the order persona, business, retrieval, followed by FormattingDirective.
// Business is skipped when the config excludes it and retrieval when RAG
// is disabled.
func (b *Builder) Build(ctx context.Context, req Request) string {
	sections := make([]string, 3)

	var g errgroup.Group
	run := func(i int, r Resolver) {
		if r == nil {
			return
		}
		g.Go(func() error {
			s, err := r.Resolve(ctx, req)
			if err != nil {
				slog.Warn("context resolver failed, omitting section", "resolver", r.Name(), "chat_id", req.ChatID, "error", err)
				b.metrics.ResolverFailed(r.Name())
				return nil
			}
			sections[i] = strings.TrimSpace(s)
			return nil
		})
	}

	run(0, b.persona)
	if !req.Config.ExcludeBusiness {
		run(1, b.business)
	}
	if req.Config.RAGEnabled {
		run(2, b.retrieval)
	}
	g.Wait()

	parts := make([]string, 0, len(sections)+1)
	for _, s := range sections {
		if s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, FormattingDirective)
	return strings.Join(parts, "\n\n")
}
