package extraction

import (
	"fmt"
	"strings"

	"github.com/kalambet/bizchat/internal/engine"
	"github.com/kalambet/bizchat/internal/storage"
)

const systemPrompt = `You maintain the working memory of a business assistant conversation. Read the latest exchange and output ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Fields:
- "topic": a short label (at most 80 characters) for what the conversation is currently about. Use an empty string if the exchange is small talk.
- "key_decisions": concrete decisions, commitments or facts the user settled on in this exchange. Use an empty array if there are none.
- "important": true only if the exchange contains information worth remembering in later turns (figures, choices, names, plans).
- "summary": when important is true, a self-contained summary of what should be remembered. Otherwise an empty string.`

// BuildPrompt constructs the classification messages for one exchange.
func BuildPrompt(question, answer string, session *storage.SessionContext) []engine.Message {
	var sb strings.Builder
	if !session.IsEmpty() {
		sb.WriteString("[Current session]\n")
		if session.Topic != "" {
			fmt.Fprintf(&sb, "Topic: %s\n", session.Topic)
		}
		for _, d := range session.KeyDecisions {
			fmt.Fprintf(&sb, "Decision: %s\n", d)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "[Latest exchange]\nUser: %s\nAssistant: %s", question, answer)

	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// schema returns the JSON schema for structured extraction output.
func schema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"topic":         {Type: "string", Description: "Current conversation topic", MaxLength: maxTopicLen},
			"key_decisions": {Type: "array", Description: "Decisions made in this exchange", Items: &engine.SchemaProperty{Type: "string"}},
			"important":     {Type: "boolean", Description: "Whether the exchange should be remembered"},
			"summary":       {Type: "string", Description: "What to remember when important"},
		},
		Required: []string{"topic", "key_decisions", "important", "summary"},
	}
}
