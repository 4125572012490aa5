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


package mock

import (
	"sync/atomic"

	"github.com/poiesic/ragflow/ai"
)

// MockProvider is a test double for ai.AIProvider.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockGenerator
	judge     *MockJudge
	closed    atomic.Bool
}

// NewMockProvider creates a new mock provider with default mock services.
// The default generator answers "This is a mock answer."
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use GetMockEmbedder()/GetMockGenerator()/GetMockJudge() for test assertions.
func NewMockProvider() ai.AIProvider {
	return NewMockProviderWithServices(nil, nil, nil)
}

// NewMockProviderWithServices creates a mock provider with custom mock
// services. Nil services get the defaults.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator, judge *MockJudge) ai.AIProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	if generator == nil {
		generator = NewMockGenerator("This is ", "a mock answer.")
	}
	if judge == nil {
		judge = NewMockJudge()
	}
	return &MockProvider{
		embedder:  embedder,
		generator: generator,
		judge:     judge,
	}
}

func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *MockProvider) Generator() ai.Generator {
	return p.generator
}

func (p *MockProvider) Judge() ai.Judge {
	return p.judge
}

// Close marks the provider closed.
func (p *MockProvider) Close() error {
	p.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (p *MockProvider) Closed() bool {
	return p.closed.Load()
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockGenerator returns the underlying mock generator for test assertions.
func (p *MockProvider) GetMockGenerator() *MockGenerator {
	return p.generator
}

// GetMockJudge returns the underlying mock judge for test assertions.
func (p *MockProvider) GetMockJudge() *MockJudge {
	return p.judge
}
