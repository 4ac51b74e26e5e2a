package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/bizchat/internal/composer"
	"github.com/kalambet/bizchat/internal/extraction"
	"github.com/kalambet/bizchat/internal/persona"
	"github.com/kalambet/bizchat/internal/proxy"
	"github.com/kalambet/bizchat/internal/storage"
	"github.com/kalambet/bizchat/internal/tools"
	"github.com/kalambet/bizchat/internal/transport"
)

const (
	webSearchInstructions = "You can search the web with the webSearch tool. Use it for current events, prices, regulations or anything else that may have changed recently, and cite the URLs you relied on."

	knowledgeInstructions = "You have access to the user's knowledge base. Call getInformation to look up facts about the business before answering questions that depend on them. Call addResource when the user shares information they will want you to remember."
)

func (e *Executor) validateStep(ctx context.Context, s State) (State, error) {
	req := s.Request()
	if err := e.validate.Struct(req); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	chat, err := e.deps.Store.GetChat(ctx, req.ChatID, req.PrincipalID)
	if errors.Is(err, storage.ErrNotFound) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, fmt.Errorf("loading chat: %w", err)
	}
	return s.WithChat(chat), nil
}

func (e *Executor) resolveContext(ctx context.Context, s State) (State, error) {
	cfg := persona.ResolveConfig(ctx, e.deps.Store, s.Request().PrincipalID, s.Chat().PersonaID, e.opts.Context)
	return s.WithConfig(cfg), nil
}

func (e *Executor) buildPrompt(ctx context.Context, s State) (State, error) {
	req := s.Request()
	sections := []string{e.deps.Builder.Build(ctx, composer.Request{
		PrincipalID:     req.PrincipalID,
		ChatID:          req.ChatID,
		Query:           req.Message,
		PersonaOverride: req.PersonaOverride,
		Config:          s.Config(),
	})}

	if block := sessionBlock(s.Chat().Session); block != "" {
		sections = append(sections, block)
	}
	if req.WebSearch && e.deps.Tools.SearchAvailable() {
		sections = append(sections, webSearchInstructions)
	}
	if s.Config().RAGEnabled {
		sections = append(sections, knowledgeInstructions)
	}
	return s.WithSystem(strings.Join(sections, "\n\n")), nil
}

func sessionBlock(sc *storage.SessionContext) string {
	if sc.IsEmpty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("Current conversation context:")
	if sc.Topic != "" {
		b.WriteString("\nTopic: ")
		b.WriteString(sc.Topic)
	}
	if len(sc.KeyDecisions) > 0 {
		b.WriteString("\nKey decisions so far:")
		for _, d := range sc.KeyDecisions {
			b.WriteString("\n- ")
			b.WriteString(d)
		}
	}
	return b.String()
}

func (e *Executor) prepareMessages(_ context.Context, s State) (State, error) {
	history := composer.SelectHistory(s.Chat().Turns, e.opts.TokenBudget, e.opts.MinTurns)
	msgs := composer.HistoryMessages(history)
	msgs = append(msgs, composer.UserMessage(s.Request().Message, s.Request().Attachment))
	return s.WithMessages(msgs), nil
}

func (e *Executor) assembleTools(ctx context.Context, s State) (State, error) {
	req := s.Request()
	cfg := s.Config()
	set := e.deps.Tools.Assemble(ctx, tools.Options{
		PrincipalID: req.PrincipalID,
		PersonaID:   cfg.PersonaID,
		Isolated:    cfg.IsolateRAG,
		RAGEnabled:  cfg.RAGEnabled,
		WebSearch:   req.WebSearch,
		Observer: func(name string, args map[string]any) {
			e.publish(req.ChatID, transport.Event{Type: transport.EventToolCall, Tool: name, Args: args})
		},
	})
	return s.WithTools(set), nil
}

func (e *Executor) stream(ctx context.Context, s State) (State, error) {
	req := s.Request()
	model := req.Model
	if model == "" {
		model = e.opts.DefaultModel
	}
	answer, err := e.deps.Model.Stream(ctx, proxy.StreamRequest{
		Model:    model,
		System:   s.System(),
		Messages: s.Messages(),
		Tools:    s.Tools(),
	}, func(delta string) {
		e.publish(req.ChatID, transport.Event{Type: transport.EventDelta, Text: delta})
	})
	if err != nil {
		return s, fmt.Errorf("streaming model response: %w", err)
	}
	return s.WithAnswer(answer), nil
}

func (e *Executor) saveResponse(ctx context.Context, s State) (State, error) {
	req := s.Request()
	turn, err := e.deps.Store.AppendTurn(ctx, req.ChatID, storage.Turn{
		Question:   req.Message,
		Answer:     s.Answer(),
		Attachment: req.Attachment,
	})
	if err != nil {
		return s, fmt.Errorf("saving turn: %w", err)
	}
	e.publish(req.ChatID, transport.Event{Type: transport.EventDone, TurnID: turn.ID})
	return s.WithTurn(turn), nil
}

func (e *Executor) extractContext(ctx context.Context, s State) (State, error) {
	if e.deps.Extractor == nil {
		return s, nil
	}
	req := s.Request()
	outcome := e.deps.Extractor.Process(ctx, extraction.Turn{
		PrincipalID: req.PrincipalID,
		ChatID:      req.ChatID,
		PersonaID:   s.Config().PersonaID,
		Question:    req.Message,
		Answer:      s.Answer(),
		Session:     s.Chat().Session,
	})
	if outcome == extraction.OutcomeFailed {
		return s, errors.New("context extraction failed")
	}
	return s, nil
}

func postProcess(_ context.Context, s State) (State, error) {
	return s, nil
}
