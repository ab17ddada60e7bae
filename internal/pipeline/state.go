package pipeline

import "coinchart/internal/model"

// Phase is the lifecycle stage of a selection.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitialLoading
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInitialLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "error"
	default:
		return "unknown"
	}
}

// State is owned by the reconciliation goroutine. Everything else sees
// copies through Snapshot.
type State struct {
	Selection        model.Selection
	Generation       uint64
	Phase            Phase
	HasMoreHistory   bool
	IsLoadingHistory bool
	SampleInFlight   bool
	Err              string

	Bars        int
	FirstTime   int64
	LastTime    int64
	LastLogical model.LogicalRange

	PagesLoaded  int
	StaleDropped int
}

// HistoryExhausted reports the terminal Ready sub-state.
func (s State) HistoryExhausted() bool {
	return s.Phase == PhaseReady && !s.HasMoreHistory
}

func (s State) status() Status {
	return Status{State: s.Phase.String(), Error: s.Err, LoadingHistory: s.IsLoadingHistory}
}
