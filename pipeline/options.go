package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/ragflow/metrics"
)

const (
	DefaultRoutingTimeout    = 2 * time.Second
	DefaultRetrievalTimeout  = 3 * time.Second
	DefaultGenerationTimeout = 30 * time.Second
	DefaultComplianceTimeout = 5 * time.Second
	DefaultRunTimeout        = 60 * time.Second
	DefaultRetryBackoff      = 500 * time.Millisecond
	DefaultWorkers           = 8
	DefaultMaxHistory        = 20
	DefaultPromptHistory     = 4
	DefaultRunRetention      = 10 * time.Minute

	// subscriberBuffer is the event buffer of each subscription.
	subscriberBuffer = 16

	// escalationTimeout bounds ticket writes made after a run was cancelled.
	escalationTimeout = 5 * time.Second
)

// Timeouts bounds each stage. Zero fields keep their defaults.
type Timeouts struct {
	Routing    time.Duration
	Retrieval  time.Duration
	Generation time.Duration
	Compliance time.Duration
	Run        time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithTimeouts overrides stage timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) error {
		if t.Routing > 0 {
			o.timeouts.Routing = t.Routing
		}
		if t.Retrieval > 0 {
			o.timeouts.Retrieval = t.Retrieval
		}
		if t.Generation > 0 {
			o.timeouts.Generation = t.Generation
		}
		if t.Compliance > 0 {
			o.timeouts.Compliance = t.Compliance
		}
		if t.Run > 0 {
			o.timeouts.Run = t.Run
		}
		return nil
	}
}

// WithRetryBackoff sets the base delay before retrying retrieval or
// compliance.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return fmt.Errorf("retry backoff must be positive, got %s", d)
		}
		o.retryBackoff = d
		return nil
	}
}

// WithEscalateOnLowContext escalates runs whose retrieval found no
// sufficient context instead of answering with a low-context notice.
func WithEscalateOnLowContext(enabled bool) Option {
	return func(o *Orchestrator) error {
		o.escalateOnLowContext = enabled
		return nil
	}
}

// WithWorkers sets the size of the background task pool.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("workers must be at least 1, got %d", n)
		}
		o.workers = n
		return nil
	}
}

// WithMaxHistory caps the stored turns per session.
func WithMaxHistory(n int) Option {
	return func(o *Orchestrator) error {
		o.maxHistory = n
		return nil
	}
}

// WithPromptHistory sets how many recent turns are included in prompts.
func WithPromptHistory(n int) Option {
	return func(o *Orchestrator) error {
		o.promptHistory = n
		return nil
	}
}

// WithRunRetention sets how long finished runs stay streamable in memory.
func WithRunRetention(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.retention = d
		return nil
	}
}

// WithGenerationParams sets sampling temperature and the completion limit.
func WithGenerationParams(temperature float64, maxTokens int) Option {
	return func(o *Orchestrator) error {
		o.temperature = temperature
		o.maxTokens = maxTokens
		return nil
	}
}

// WithRecorder reports transitions and latencies to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) error {
		if r != nil {
			o.recorder = r
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) error {
		o.now = now
		return nil
	}
}
