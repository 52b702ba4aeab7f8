package logging

import "time"

// #region step-entry
// Decision values recorded in the provenance log.
const (
	DecisionMove      = "move"
	DecisionStop      = "stop"
	DecisionBacktrack = "backtrack"
	DecisionAbort     = "abort"
)

// StepEntry is a single row in the provenance_log table: what the engine
// decided at one step and how the decision-maker got there.
type StepEntry struct {
	EpisodeID       string
	Step            int
	ViewPoint       string
	Decision        string // "move" | "stop" | "backtrack" | "abort"
	Action          int
	ActionDirection string
	Score           float64
	Attempts        int
	Fallback        bool
	Reason          string
	CreatedAt       time.Time
}

// #endregion step-entry
