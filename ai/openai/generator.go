package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/poiesic/ragflow/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client llms.Model
	model  string
	logger *slog.Logger
}

func newGenerator(config *ai.Config, httpClient *http.Client) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(clientOptions(httpClient,
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.GenerationModel),
	)...)
	if err != nil {
		return nil, err
	}

	return &Generator{
		client: client,
		model:  config.GenerationModel,
		logger: slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config, nil)
}

// Generate runs a chat completion, streaming through onChunk when requested.
func (g *Generator) Generate(ctx context.Context, req ai.GenerateRequest, onChunk ai.StreamFunc) (*ai.GenerateResponse, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("generate: %w", ErrEmptyInput)
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	opts := []llms.CallOption{
		llms.WithModel(model),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Stream && onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onChunk(ctx, string(chunk))
		}))
	}

	g.logger.Debug("generating", "model", model, "messages", len(req.Messages), "stream", req.Stream)

	response, err := g.client.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
	if err != nil {
		g.logger.Error("failed to generate content", "model", model, "err", err)
		return nil, err
	}
	if len(response.Choices) < 1 {
		return nil, ErrNoChoices
	}

	choice := response.Choices[0]
	return &ai.GenerateResponse{
		Text:  choice.Content,
		Model: model,
		Usage: usageFromInfo(choice.GenerationInfo),
	}, nil
}

func toMessageContent(messages []ai.Message) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}
	return content
}

func chatMessageType(role ai.MessageRole) llms.ChatMessageType {
	switch role {
	case ai.MessageSystem:
		return llms.ChatMessageTypeSystem
	case ai.MessageAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// usageFromInfo reads token counts from the generation info map. Keys and
// value types vary across backends, so unknown shapes count as zero.
func usageFromInfo(info map[string]any) ai.Usage {
	return ai.Usage{
		PromptTokens:     intFromInfo(info, "PromptTokens", "prompt_tokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens", "completion_tokens"),
	}
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		for k, v := range info {
			if !strings.EqualFold(k, key) {
				continue
			}
			switch n := v.(type) {
			case int:
				return n
			case int32:
				return int(n)
			case int64:
				return int(n)
			case float64:
				return int(n)
			}
		}
	}
	return 0
}
