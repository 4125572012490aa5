package pipeline

import "errors"

var (
	// ErrRunNotFound is returned for unknown or evicted run IDs.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExpired is yielded by Stream for a completed run whose released
	// output is no longer held in memory. Status still reports the run.
	ErrRunExpired = errors.New("run output expired")

	// ErrSessionNotFound is returned when a query names an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRunFailed is yielded by Stream when a run ends in the failed state.
	ErrRunFailed = errors.New("run failed")

	// ErrRunEscalated is yielded by Stream when a run was sent to review
	// instead of being released.
	ErrRunEscalated = errors.New("run escalated")

	// ErrRunCancelled is the cancellation cause for explicit Cancel calls.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrRunTimeout is the cancellation cause when a run outlives its budget.
	ErrRunTimeout = errors.New("run timed out")

	// ErrOrchestratorClosed is returned by Submit after Close, and is the
	// cancellation cause of runs aborted by Close.
	ErrOrchestratorClosed = errors.New("orchestrator closed")

	// ErrRetrievalTimeout wraps retrieval attempts that hit their deadline.
	ErrRetrievalTimeout = errors.New("retrieval timed out")

	// ErrRoutingTimeout is logged when routing falls back after its deadline.
	ErrRoutingTimeout = errors.New("routing timed out")

	// ErrComplianceFail is recorded on runs whose answer was blocked.
	ErrComplianceFail = errors.New("compliance check failed")

	// ErrDownstreamUnavailable wraps collaborator errors after retries.
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
)

// Required collaborator errors.
var (
	ErrSessionRepositoryRequired = errors.New("session repository required")
	ErrRunRepositoryRequired     = errors.New("run repository required")
	ErrAdvisorRequired           = errors.New("cost advisor required")
	ErrRouterRequired            = errors.New("router required")
	ErrRetrieverRequired         = errors.New("retriever required")
	ErrGeneratorRequired         = errors.New("generator required")
	ErrGateRequired              = errors.New("compliance gate required")
	ErrLedgerRequired            = errors.New("ledger required")
	ErrEscalatorRequired         = errors.New("escalator required")
)
