package cost

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding is used when the model has no known encoding.
const defaultEncoding = "cl100k_base"

// TokenCounter counts model tokens in text.
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	encodingName string
	tke          *tiktoken.Tiktoken
}

// NewTiktokenCounter creates a counter for the given model or encoding,
// falling back to cl100k_base. Loading an encoding may download its ranks.
func NewTiktokenCounter(modelOrEncoding string) (*TiktokenCounter, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}

	encodingName := modelOrEncoding
	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		// Try as a model name
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			tke, err = tiktoken.GetEncoding(defaultEncoding)
			if err != nil {
				return nil, fmt.Errorf("failed to get default encoding '%s': %w", defaultEncoding, err)
			}
			encodingName = defaultEncoding
		}
	}

	return &TiktokenCounter{encodingName: encodingName, tke: tke}, nil
}

// CountTokens returns the number of tokens in text.
func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

// Encoding returns the name of the encoding in use.
func (c *TiktokenCounter) Encoding() string {
	return c.encodingName
}

// HeuristicCounter estimates tokens without an encoding.
type HeuristicCounter struct{}

// CountTokens blends a word estimate with a four-characters-per-token estimate.
func (HeuristicCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens approximates GPT-style token counts.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	chars := len(text)
	return max(1, (words+chars/4)/2)
}
