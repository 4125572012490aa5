// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Generator,
// ai.Judge and ai.AIProvider for use in unit tests. The mocks run without
// external services and behave deterministically.
//
// # Usage in Tests
//
//	mockProvider := mock.NewMockProvider()
//	vector, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Scripted streaming answer, one chunk every 5ms
//	gen := mock.NewMockGenerator("The maximum ", "daily dose is ", "1200 mg.").
//	    WithDelay(5 * time.Millisecond)
//
//	// Custom behavior injection
//	gen.GenerateFunc = func(ctx context.Context, req ai.GenerateRequest, onChunk ai.StreamFunc) (*ai.GenerateResponse, error) {
//	    return nil, errors.New("backend down")
//	}
//
// # Default Behavior
//
//   - MockEmbedder: bag-of-words vectors hashed into a fixed number of
//     buckets, so texts sharing words have high cosine similarity
//   - MockGenerator: emits its scripted chunks, honoring cancellation
//   - MockJudge: returns fixed scores
//   - MockProvider: aggregates the three
package mock
