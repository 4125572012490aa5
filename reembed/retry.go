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


package reembed

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryWithBackoff retries an operation with exponential backoff.
// maxAttempts: maximum number of attempts (must be > 0)
// baseDelay: delay before the first retry, doubling on each retry
// Returns the error from the last attempt if all attempts fail, or the
// context error if ctx ends first.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = time.Millisecond
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(baseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := operation(); err != nil {
			slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "error", err)
			return retry.RetryableError(err)
		}
		if attempt > 1 {
			slog.Debug("operation succeeded after retry", "attempt", attempt)
		}
		return nil
	})
}
