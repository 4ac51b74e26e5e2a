// Package pipeline turns one user message into a streamed, persisted model
// answer by running a fixed sequence of steps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/bizchat/internal/composer"
	"github.com/kalambet/bizchat/internal/extraction"
	"github.com/kalambet/bizchat/internal/metrics"
	"github.com/kalambet/bizchat/internal/persona"
	"github.com/kalambet/bizchat/internal/proxy"
	"github.com/kalambet/bizchat/internal/storage"
	"github.com/kalambet/bizchat/internal/tools"
	"github.com/kalambet/bizchat/internal/transport"
)

var (
	// ErrNotFound means the chat does not exist or belongs to another principal.
	ErrNotFound = errors.New("chat not found")
	// ErrInvalid means the request is malformed.
	ErrInvalid = errors.New("invalid turn request")
	// ErrInternal wraps failures of the model call or persistence.
	ErrInternal = errors.New("internal error")
)

// ChatStore is the durable store used by the pipeline.
// Implemented by storage.Store.
type ChatStore interface {
	GetChat(ctx context.Context, id, principalID string) (storage.Chat, error)
	AppendTurn(ctx context.Context, chatID string, t storage.Turn) (storage.Turn, error)
	GetPersona(ctx context.Context, id string) (storage.Persona, error)
}

// PromptBuilder assembles the context sections of the system prompt.
type PromptBuilder interface {
	Build(ctx context.Context, req composer.Request) string
}

// ToolAssembler builds the per-turn tool set.
type ToolAssembler interface {
	Assemble(ctx context.Context, opts tools.Options) *tools.Set
	SearchAvailable() bool
}

// Streamer is the model-serving collaborator.
type Streamer interface {
	Stream(ctx context.Context, req proxy.StreamRequest, onDelta func(string)) (string, error)
}

// ContextExtractor learns session memory from a saved turn.
type ContextExtractor interface {
	Process(ctx context.Context, t extraction.Turn) string
}

// Deps are the collaborators of the Executor. Extractor and Hub may be nil.
type Deps struct {
	Store     ChatStore
	Builder   PromptBuilder
	Tools     ToolAssembler
	Model     Streamer
	Extractor ContextExtractor
	Hub       transport.Publisher
	Metrics   *metrics.Metrics
}

// Options tune the Executor.
type Options struct {
	DefaultModel string
	TokenBudget  int
	MinTurns     int
	Context      persona.Defaults
}

// Result reports a finished turn.
type Result struct {
	Success bool   `json:"success"`
	TurnID  string `json:"turn_id,omitempty"`
	Answer  string `json:"answer,omitempty"`
}

// Step is one stage of the pipeline. A best-effort step's failure is
// logged and the state from before the step is kept.
type Step struct {
	Name       string
	BestEffort bool
	// Detached steps run on a context that ignores caller cancellation.
	Detached bool
	Run      func(ctx context.Context, s State) (State, error)
}

// Executor runs the turn pipeline.
type Executor struct {
	deps     Deps
	opts     Options
	validate *validator.Validate
	steps    []Step
}

func New(deps Deps, opts Options) *Executor {
	if opts.MinTurns == 0 {
		opts.MinTurns = composer.DefaultMinTurns
	}
	e := &Executor{deps: deps, opts: opts, validate: validator.New()}
	e.steps = []Step{
		{Name: "validate", Run: e.validateStep},
		{Name: "resolve_context", Run: e.resolveContext},
		{Name: "build_prompt", Run: e.buildPrompt},
		{Name: "prepare_messages", Run: e.prepareMessages},
		{Name: "assemble_tools", Run: e.assembleTools},
		{Name: "stream", Detached: true, Run: e.stream},
		{Name: "save_response", Detached: true, Run: e.saveResponse},
		{Name: "extract_context", Detached: true, BestEffort: true, Run: e.extractContext},
		{Name: "post_process", Detached: true, BestEffort: true, Run: postProcess},
	}
	return e
}

// SendTurn runs every step in order for req. Validation failures return
// ErrInvalid, unknown or foreign chats ErrNotFound, and model or
// persistence failures ErrInternal. The hub receives a done or error event.
func (e *Executor) SendTurn(ctx context.Context, req TurnRequest) (Result, error) {
	state := newState(req)
	for _, step := range e.steps {
		stepCtx := ctx
		if step.Detached {
			stepCtx = context.WithoutCancel(ctx)
		}

		start := time.Now()
		next, err := step.Run(stepCtx, state)
		e.deps.Metrics.Step(step.Name, time.Since(start))

		if err != nil {
			if step.BestEffort {
				slog.Warn("pipeline step failed, continuing", "step", step.Name, "chat_id", req.ChatID, "error", err)
				continue
			}
			err = classify(step.Name, err)
			e.fail(req.ChatID, err)
			return Result{}, err
		}
		state = next
	}

	e.deps.Metrics.Turn("ok")
	return Result{Success: true, TurnID: state.Turn().ID, Answer: state.Answer()}, nil
}

func classify(step string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrInternal, step, err)
}

func (e *Executor) fail(chatID string, err error) {
	status := "error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrInvalid):
		status = "invalid"
	}
	e.deps.Metrics.Turn(status)
	if status == "error" {
		slog.Error("turn failed", "chat_id", chatID, "error", err)
	}
	e.publish(chatID, transport.Event{Type: transport.EventError, Error: err.Error()})
}

func (e *Executor) publish(chatID string, ev transport.Event) {
	if e.deps.Hub != nil {
		e.deps.Hub.Publish(chatID, ev)
	}
}
