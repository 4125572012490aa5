package generation

import (
	"fmt"
	"strings"

	"github.com/poiesic/ragflow/ai"
	"github.com/poiesic/ragflow/core"
)

// lowContextNotice tells the model the retrieved context is insufficient.
const lowContextNotice = "No sufficiently relevant reference material was found for this question. " +
	"Say that you could not find supporting sources and do not guess."

// PromptInput is everything a prompt is built from.
type PromptInput struct {
	SystemPrompt string
	Tools        []string
	Context      []core.RetrievedChunk
	History      []core.Turn
	LowContext   bool
	Question     string
}

// BuildMessages assembles the chat messages for one answer. Context
// passages are numbered from 1 in the order given so answers can cite them.
func BuildMessages(in PromptInput) []ai.Message {
	var system strings.Builder
	system.WriteString(strings.TrimSpace(in.SystemPrompt))
	if len(in.Tools) > 0 {
		fmt.Fprintf(&system, "\n\nAvailable tools: %s.", strings.Join(in.Tools, ", "))
	}

	if in.LowContext || len(in.Context) == 0 {
		system.WriteString("\n\n")
		system.WriteString(lowContextNotice)
	} else {
		system.WriteString("\n\nReference material:\n")
		for i, c := range in.Context {
			fmt.Fprintf(&system, "[%d]", i+1)
			if c.Metadata.Title != "" {
				fmt.Fprintf(&system, " %s:", c.Metadata.Title)
			}
			system.WriteByte(' ')
			system.WriteString(strings.TrimSpace(c.Text))
			system.WriteByte('\n')
		}
	}

	messages := make([]ai.Message, 0, len(in.History)+2)
	messages = append(messages, ai.Message{Role: ai.MessageSystem, Content: strings.TrimSpace(system.String())})
	for _, turn := range in.History {
		role := ai.MessageUser
		if turn.Role == core.RoleAssistant {
			role = ai.MessageAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, ai.Message{Role: ai.MessageUser, Content: in.Question})
	return messages
}
