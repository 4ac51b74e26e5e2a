// Package extraction derives session memory from finished chat turns.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/bizchat/internal/engine"
	"github.com/kalambet/bizchat/internal/metrics"
	"github.com/kalambet/bizchat/internal/storage"
)

const (
	extractionTimeout = 10 * time.Second

	// MinExchangeLength is the combined question and answer length below
	// which a turn is not worth classifying.
	MinExchangeLength = 50

	maxTopicLen = 80
)

// Outcome of processing one turn.
const (
	OutcomeSkipped   = "skipped"
	OutcomeUnchanged = "unchanged"
	OutcomeUpdated   = "updated"
	OutcomeStored    = "stored"
	OutcomeFailed    = "failed"
)

// Chatter is the interface for structured chat completion.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Store persists session context and chat-context resources.
// Implemented by storage.Store.
type Store interface {
	UpdateSessionContext(ctx context.Context, chatID, topic string, decisions []string) (storage.SessionContext, error)
	SaveResource(ctx context.Context, r storage.Resource) (storage.Resource, error)
	DeleteResource(ctx context.Context, id, principalID string) error
}

// Indexer embeds a stored resource.
type Indexer interface {
	Index(ctx context.Context, r storage.Resource) (int, error)
}

// Result is the structured classification of one exchange.
type Result struct {
	Topic        string   `json:"topic"`
	KeyDecisions []string `json:"key_decisions"`
	Important    bool     `json:"important"`
	Summary      string   `json:"summary"`
}

// Turn is a finished exchange to learn from.
type Turn struct {
	PrincipalID string
	ChatID      string
	PersonaID   string
	Question    string
	Answer      string
	Session     *storage.SessionContext
}

// Extractor classifies exchanges with a fast local model and writes the
// result back as session context and, for important exchanges, as
// retrievable chat memory.
type Extractor struct {
	client  Chatter
	model   string
	store   Store
	indexer Indexer
	metrics *metrics.Metrics
}

func NewExtractor(client Chatter, model string, store Store, indexer Indexer, m *metrics.Metrics) *Extractor {
	return &Extractor{client: client, model: model, store: store, indexer: indexer, metrics: m}
}

// Process runs extraction for t. Failures are logged and reported only
// through the returned outcome.
func (e *Extractor) Process(ctx context.Context, t Turn) string {
	outcome := e.process(ctx, t)
	e.metrics.Extraction(outcome)
	return outcome
}

func (e *Extractor) process(ctx context.Context, t Turn) string {
	if utf8.RuneCountInString(t.Question)+utf8.RuneCountInString(t.Answer) < MinExchangeLength {
		return OutcomeSkipped
	}

	res, err := e.classify(ctx, t)
	if err != nil {
		slog.Warn("context extraction failed", "chat_id", t.ChatID, "error", err)
		return OutcomeFailed
	}

	outcome := OutcomeUnchanged
	if res.Topic != "" || len(res.KeyDecisions) > 0 {
		if _, err := e.store.UpdateSessionContext(ctx, t.ChatID, res.Topic, res.KeyDecisions); err != nil {
			slog.Warn("updating session context failed", "chat_id", t.ChatID, "error", err)
			outcome = OutcomeFailed
		} else {
			outcome = OutcomeUpdated
		}
	}

	if !res.Important {
		return outcome
	}
	if err := e.remember(ctx, t, res); err != nil {
		slog.Warn("storing chat context failed", "chat_id", t.ChatID, "error", err)
		return OutcomeFailed
	}
	if outcome == OutcomeFailed {
		return outcome
	}
	return OutcomeStored
}

func (e *Extractor) classify(ctx context.Context, t Turn) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(t.Question, t.Answer, t.Session), schema())
	if err != nil {
		return Result{}, fmt.Errorf("classification chat: %w", err)
	}

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Result{}, fmt.Errorf("decoding classification %q: %w", raw, err)
	}
	return normalize(res), nil
}

// normalize trims fields and enforces the topic length limit.
func normalize(r Result) Result {
	r.Topic = strings.TrimSpace(r.Topic)
	if utf8.RuneCountInString(r.Topic) > maxTopicLen {
		r.Topic = strings.TrimSpace(string([]rune(r.Topic)[:maxTopicLen]))
	}
	decisions := make([]string, 0, len(r.KeyDecisions))
	for _, d := range r.KeyDecisions {
		if d = strings.TrimSpace(d); d != "" {
			decisions = append(decisions, d)
		}
	}
	r.KeyDecisions = decisions
	r.Summary = strings.TrimSpace(r.Summary)
	return r
}

func (e *Extractor) remember(ctx context.Context, t Turn, res Result) error {
	content := res.Summary
	if content == "" {
		content = fmt.Sprintf("Q: %s\nA: %s", t.Question, t.Answer)
	}
	title := res.Topic
	if title == "" {
		title = "Chat context"
	}

	r, err := e.store.SaveResource(ctx, storage.Resource{
		PrincipalID: t.PrincipalID,
		PersonaID:   t.PersonaID,
		ChatID:      t.ChatID,
		Type:        storage.ResourceChatContext,
		Title:       title,
		Source:      "extraction",
		Content:     content,
	})
	if err != nil {
		return err
	}
	if _, err := e.indexer.Index(ctx, r); err != nil {
		if derr := e.store.DeleteResource(context.WithoutCancel(ctx), r.ID, r.PrincipalID); derr != nil {
			slog.Warn("removing unindexed chat context failed", "resource_id", r.ID, "error", derr)
		}
		return fmt.Errorf("indexing resource %s: %w", r.ID, err)
	}
	return nil
}
