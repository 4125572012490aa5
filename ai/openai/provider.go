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
	"log/slog"
	"net/http"

	"github.com/poiesic/ragflow/ai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider implements ai.AIProvider using OpenAI-compatible services.
// The embedder, generator and judge share one HTTP connection pool.
type Provider struct {
	config    *ai.Config
	client    *http.Client
	embedder  *Embedder
	generator *Generator
	judge     *Judge
	logger    *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}

	embedder, err := newEmbedder(config, client)
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(config, client)
	if err != nil {
		return nil, err
	}

	judge, err := newJudge(config, client)
	if err != nil {
		return nil, err
	}

	return &Provider{
		config:    config,
		client:    client,
		embedder:  embedder,
		generator: generator,
		judge:     judge,
		logger:    slog.Default().With("component", "openai-provider"),
	}, nil
}

// clientOptions prepends the shared HTTP client, when there is one, to opts.
func clientOptions(client *http.Client, opts ...openai.Option) []openai.Option {
	if client == nil {
		return opts
	}
	return append([]openai.Option{openai.WithHTTPClient(client)}, opts...)
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the answer generation service.
func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Judge returns the answer scoring service.
func (p *Provider) Judge() ai.Judge {
	return p.judge
}

// Close drops idle pooled connections. In-flight requests are not
// interrupted; cancel their contexts for that.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	p.client.CloseIdleConnections()
	return nil
}
