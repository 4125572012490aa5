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


// Package openai implements ai.AIProvider against OpenAI-compatible HTTP
// APIs through langchaingo. It works with hosted OpenAI as well as local
// servers such as Ollama or vLLM that expose the /v1 endpoints.
//
// The provider bundles three services over one pooled HTTP client:
//
//   - Embedder batches passages for /embeddings and rejects blank input.
//   - Generator runs chat completions and relays streamed deltas to the
//     caller, reporting token usage when the server returns it.
//   - Judge asks a model for JSON scores and repairs near-miss output
//     (surrounding prose, trailing commas) before retrying.
//
// Typical wiring:
//
//	config := ai.NewConfig(
//	    ai.WithHost("http://localhost:11434"), // /v1 added automatically
//	    ai.WithEmbeddingModel("nomic-embed-text"),
//	    ai.WithGenerationModel("qwen2.5:7b"),
//	)
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	resp, err := provider.Generator().Generate(ctx, req, func(ctx context.Context, delta string) error {
//	    fmt.Print(delta)
//	    return nil
//	})
package openai
