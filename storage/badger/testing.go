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


package badger

// Repositories bundles every repository over one backend.
type Repositories struct {
	Backend     *Backend
	Sessions    *SessionRepository
	Runs        *RunRepository
	Ledger      *LedgerRepository
	Evaluations *EvaluationRepository
	Tickets     *TicketRepository
	Documents   *DocumentRepository
	Checkpoints *CheckpointRepository
}

// NewRepositories creates all repositories over an open backend.
func NewRepositories(backend *Backend) (*Repositories, error) {
	evaluations, err := NewEvaluationRepository(backend)
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Backend:     backend,
		Sessions:    NewSessionRepository(backend),
		Runs:        NewRunRepository(backend),
		Ledger:      NewLedgerRepository(backend),
		Evaluations: evaluations,
		Tickets:     NewTicketRepository(backend),
		Documents:   NewDocumentRepository(backend),
		Checkpoints: NewCheckpointRepository(backend),
	}, nil
}

// Close releases repository resources and closes the backend.
func (r *Repositories) Close() error {
	if err := r.Evaluations.Close(); err != nil {
		r.Backend.logger.Error("error releasing evaluation sequence", "err", err)
	}
	return r.Backend.Close()
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must Close the result when done.
func NewMemoryRepositories() (*Repositories, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}

	repos, err := NewRepositories(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return repos, nil
}
