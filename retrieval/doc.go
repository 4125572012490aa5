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


// Package retrieval finds the context passages an answer is grounded on.
//
// The Coordinator queries a VectorStore once per call, drops passages below
// the relevance floor, removes overlapping passages of the same document
// and returns the top-k in a deterministic order:
//   - score, highest first
//   - publication date, newest first
//   - chunk ID, ascending
//
// An empty result is reported through Result.Insufficient rather than as an
// error. Two stores are provided: EmbeddedStore searches chunks kept in the
// document repository, and LangChainStore adapts any langchaingo vector store.
package retrieval
