package composer

import (
	"github.com/kalambet/bizchat/internal/proxy"
	"github.com/kalambet/bizchat/internal/storage"
)

const (
	DefaultTokenBudget = 8000
	DefaultMinTurns    = 3

	// turnOverhead approximates role markers and separators per turn.
	turnOverhead = 10
)

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateTurnTokens is the prompt cost of one question/answer pair.
func EstimateTurnTokens(t storage.Turn) int {
	return EstimateTokens(t.Question+t.Answer) + turnOverhead
}

// HistoryCost sums EstimateTurnTokens over turns.
func HistoryCost(turns []storage.Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTurnTokens(t)
	}
	return total
}

// SelectHistory returns the most recent turns that fit in budget tokens,
// oldest first. The newest minTurns turns are always kept even when they
// alone exceed the budget; after that, selection stops at the first turn
// that would overflow. A budget <= 0 or negative minTurns selects the
// defaults.
func SelectHistory(turns []storage.Turn, budget, minTurns int) []storage.Turn {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if minTurns < 0 {
		minTurns = DefaultMinTurns
	}

	start := len(turns)
	total := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := EstimateTurnTokens(turns[i])
		kept := len(turns) - start
		if kept >= minTurns && total+cost > budget {
			break
		}
		total += cost
		start = i
	}

	out := make([]storage.Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}

// HistoryMessages flattens turns into alternating user/assistant messages.
// A turn without an answer contributes only its question.
func HistoryMessages(turns []storage.Turn) []proxy.Message {
	msgs := make([]proxy.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs, UserMessage(t.Question, t.Attachment))
		if t.Answer != "" {
			msgs = append(msgs, proxy.Message{Role: proxy.RoleAssistant, Content: t.Answer})
		}
	}
	return msgs
}

// UserMessage builds a user message, noting the attachment when present.
func UserMessage(text string, att *storage.Attachment) proxy.Message {
	if att != nil && att.Name != "" {
		text += "\n\n[Attached " + attachmentKind(att) + ": " + att.Name + "]"
	}
	return proxy.Message{Role: proxy.RoleUser, Content: text}
}

func attachmentKind(att *storage.Attachment) string {
	if att.Kind == "" {
		return "file"
	}
	return att.Kind
}
