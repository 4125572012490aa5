package retrieval

import "github.com/poiesic/ragflow/core"

// Monitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(query string)
	AfterSearch(hits []core.RetrievedChunk)
	BelowThreshold(chunk core.RetrievedChunk)
	Duplicate(dropped, kept core.RetrievedChunk)
	Finish(result Result)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                       {}
func (n *noopMonitor) AfterSearch(_ []core.RetrievedChunk)  {}
func (n *noopMonitor) BelowThreshold(_ core.RetrievedChunk) {}
func (n *noopMonitor) Duplicate(_, _ core.RetrievedChunk)   {}
func (n *noopMonitor) Finish(_ Result)                      {}
