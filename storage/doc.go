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


// Package storage provides the persistence layer for ragflow.
//
// The package defines repository interfaces that decouple the pipeline from
// the storage engine. The only shipped implementation lives in
// storage/badger.
//
// # Architecture
//
// Each persisted record type has its own repository:
//
//   - SessionRepository: sessions and their conversation history
//   - RunRepository: pipeline run snapshots, rewritten on every transition
//   - LedgerRepository: append-only cost ledger, one entry per run
//   - EvaluationRepository: append-only evaluation scores
//   - TicketRepository: escalation tickets and the run to ticket index
//   - DocumentRepository: document chunks and vector similarity search
//
// # Encoding
//
// Every record is encoded with mus-go serializers in serialization.go.
// Fields are written in declaration order; collections (session history,
// run stage statuses, tools) are length-prefixed.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	runs := badger.NewRunRepository(backend)
//
// Tests use badger.NewMemoryRepositories() for an in-memory store.
//
// # Thread Safety
//
// All repository implementations must be thread-safe. Append-only stores
// only need atomic single-record writes, which badger transactions provide.
package storage
