package query

import (
	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/core"
)

// Stage is a state in the lifecycle of one query request.
type Stage string

const (
	StageReceived  Stage = "received"
	StageValidated Stage = "validated"
	StageRetrieved Stage = "retrieved"
	StagePrompted  Stage = "prompted"
	StageGenerated Stage = "generated"
	StageFormatted Stage = "formatted"
	StageReturned  Stage = "returned"

	// Terminal failure stages
	StageRejected         Stage = "rejected"
	StageFailedRetrieval  Stage = "failed_retrieval"
	StageFailedGeneration Stage = "failed_generation"
)

// Terminal reports whether no further transition follows s.
func (s Stage) Terminal() bool {
	switch s {
	case StageReturned, StageRejected, StageFailedRetrieval, StageFailedGeneration:
		return true
	}
	return false
}

// Monitor provides hooks to observe the query process.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Transition(from, to Stage, err error)
	AfterRetrieval(results []*core.SearchResult)
	AfterPrompt(prompt *ai.Prompt, sourcesCount int)
	Finish(answer *core.Answer)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Transition(_, _ Stage, _ error)         {}
func (n *noopMonitor) AfterRetrieval(_ []*core.SearchResult) {}
func (n *noopMonitor) AfterPrompt(_ *ai.Prompt, _ int)       {}
func (n *noopMonitor) Finish(_ *core.Answer)                 {}
