package ai

// MessageRole is the author of a prompt message.
type MessageRole string

const (
	MessageSystem    MessageRole = "system"
	MessageUser      MessageRole = "user"
	MessageAssistant MessageRole = "assistant"
)

// Message is one entry of a chat prompt.
type Message struct {
	Role    MessageRole
	Content string
}

// GenerateRequest describes a single completion call.
type GenerateRequest struct {
	// Model overrides the provider's default model when set.
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// Usage is the token accounting of a call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// GenerateResponse is the result of a completion call. Usage is zero when
// the backend did not report it.
type GenerateResponse struct {
	Text  string
	Model string
	Usage Usage
}

// Scores are answer quality scores, each in [0, 1].
type Scores struct {
	Relevance    float64 `json:"relevance"`
	Faithfulness float64 `json:"faithfulness"`
	Completeness float64 `json:"completeness"`
}

// Clamp limits every score to [0, 1].
func (s Scores) Clamp() Scores {
	return Scores{
		Relevance:    clamp01(s.Relevance),
		Faithfulness: clamp01(s.Faithfulness),
		Completeness: clamp01(s.Completeness),
	}
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
