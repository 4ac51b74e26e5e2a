package pipeline

import (
	"github.com/kalambet/bizchat/internal/composer"
	"github.com/kalambet/bizchat/internal/proxy"
	"github.com/kalambet/bizchat/internal/storage"
	"github.com/kalambet/bizchat/internal/tools"
)

// TurnRequest is one inbound user message.
type TurnRequest struct {
	PrincipalID string `validate:"required"`
	ChatID      string `validate:"required"`
	Message     string `validate:"required"`
	Attachment  *storage.Attachment
	WebSearch   bool
	// Model overrides the default model when set.
	Model string
	// PersonaOverride replaces the persona's stored instructions for this turn.
	PersonaOverride string
}

// State accumulates the results of the steps of one turn. It is a value:
// every With method returns a modified copy and leaves the receiver as it
// was, so a step can never observe a later step's changes.
type State struct {
	req      TurnRequest
	chat     storage.Chat
	config   composer.ContextConfig
	system   string
	messages []proxy.Message
	tools    *tools.Set
	answer   string
	turn     storage.Turn
}

func newState(req TurnRequest) State {
	return State{req: req}
}

func (s State) Request() TurnRequest           { return s.req }
func (s State) Chat() storage.Chat             { return s.chat }
func (s State) Config() composer.ContextConfig { return s.config }
func (s State) System() string                 { return s.system }
func (s State) Tools() *tools.Set              { return s.tools }
func (s State) Answer() string                 { return s.answer }
func (s State) Turn() storage.Turn             { return s.turn }

// Messages returns a copy of the prepared model messages.
func (s State) Messages() []proxy.Message {
	return append([]proxy.Message(nil), s.messages...)
}

func (s State) WithChat(c storage.Chat) State {
	s.chat = c
	return s
}

func (s State) WithConfig(c composer.ContextConfig) State {
	s.config = c
	return s
}

func (s State) WithSystem(system string) State {
	s.system = system
	return s
}

func (s State) WithMessages(msgs []proxy.Message) State {
	s.messages = append([]proxy.Message(nil), msgs...)
	return s
}

func (s State) WithTools(t *tools.Set) State {
	s.tools = t
	return s
}

func (s State) WithAnswer(answer string) State {
	s.answer = answer
	return s
}

func (s State) WithTurn(t storage.Turn) State {
	s.turn = t
	return s
}
