// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/poiesic/ragflow/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// judgeAttempts is how many times a malformed judge response is retried.
const judgeAttempts = 3

// Judge implements ai.Judge by asking a chat model for JSON scores.
type Judge struct {
	client llms.Model
	logger *slog.Logger
}

func newJudge(config *ai.Config, httpClient *http.Client) (*Judge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(clientOptions(httpClient,
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.JudgeModel),
	)...)
	if err != nil {
		return nil, err
	}

	return newJudgeWithModel(client), nil
}

func newJudgeWithModel(client llms.Model) *Judge {
	return &Judge{
		client: client,
		logger: slog.Default().With("component", "openai-judge"),
	}
}

// NewJudge creates a new judge using the provided configuration.
//
// Returns ai.Judge interface to enforce abstraction.
func NewJudge(config *ai.Config) (ai.Judge, error) {
	return newJudge(config, nil)
}

// ScoreAnswer asks the model to grade an answer. Malformed JSON is repaired
// where possible and otherwise retried.
func (j *Judge) ScoreAnswer(ctx context.Context, question, answer string, contexts []string) (ai.Scores, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, buildJudgeSystemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, buildJudgeUserPrompt(question, answer, contexts)),
	}

	var lastErr error
	for attempt := 1; attempt <= judgeAttempts; attempt++ {
		response, err := j.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			j.logger.Error("failed to generate content", "attempt", attempt, "err", err)
			return ai.Scores{}, err
		}
		if len(response.Choices) < 1 {
			return ai.Scores{}, ErrNoChoices
		}

		responseText := repairJSON(response.Choices[0].Content)

		var scores ai.Scores
		if err := json.Unmarshal([]byte(responseText), &scores); err != nil {
			lastErr = err
			j.logger.Warn("error parsing judge response",
				"attempt", attempt,
				"response", responseText,
				"err", err)
			continue
		}
		return scores.Clamp(), nil
	}

	j.logger.Error("failed to parse judge response after retries", "err", lastErr)
	return ai.Scores{}, fmt.Errorf("%w: %w", ErrMalformedScores, lastErr)
}
