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


// Package ai provides abstractions for the model services used by ragflow.
//
// # Interfaces
//
//   - Embedder: generates vector embeddings for documents and queries
//   - Generator: runs chat completions, optionally streaming text as it arrives
//   - Judge: scores an answer for relevance, faithfulness and completeness
//   - AIProvider: aggregates the three for initialization and shutdown
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs through langchaingo
//   - ai/mock: deterministic test doubles
//
// Public constructors in ai/openai return interface types. Constructors in
// ai/mock return concrete types so tests can inject behavior and inspect
// call counts.
//
// # Usage Example
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	resp, err := provider.Generator().Generate(ctx, ai.GenerateRequest{
//	    Messages: []ai.Message{{Role: ai.MessageUser, Content: "Hello"}},
//	    Stream:   true,
//	}, func(ctx context.Context, chunk string) error {
//	    fmt.Print(chunk)
//	    return nil
//	})
package ai
