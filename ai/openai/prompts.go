package openai

import (
	"fmt"
	"strings"
)

const judgeResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "relevance":    {"type": "number", "minimum": 0, "maximum": 1},
    "faithfulness": {"type": "number", "minimum": 0, "maximum": 1},
    "completeness": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "required": ["relevance", "faithfulness", "completeness"],
  "additionalProperties": false
}`

const judgePromptTemplate = `You grade answers produced by a retrieval-augmented assistant.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Scoring:
- relevance: how directly the answer addresses the question.
- faithfulness: how well every claim in the answer is supported by the context passages. Claims absent from the context lower the score.
- completeness: how fully the answer covers what the question asks.
Use 0 for the worst and 1 for the best. Use one decimal place.`

// maxContextRunes bounds each context passage included in the judge prompt.
const maxContextRunes = 1500

func buildJudgeSystemPrompt() string {
	return fmt.Sprintf(judgePromptTemplate, judgeResponseSchema)
}

func buildJudgeUserPrompt(question, answer string, contexts []string) string {
	var sb strings.Builder
	sb.WriteString("Question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nContext passages:\n")
	if len(contexts) == 0 {
		sb.WriteString("(none)\n")
	}
	for i, c := range contexts {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, truncateRunes(c, maxContextRunes))
	}
	sb.WriteString("\nAnswer:\n")
	sb.WriteString(answer)
	return sb.String()
}
