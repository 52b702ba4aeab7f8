package ledger

import (
	"errors"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

var (
	// ErrFinalized is returned by any mutation after Finalize.
	ErrFinalized = errors.New("ledger: already finalized")
	// ErrShortLedger is returned when asked to rewind past the origin.
	ErrShortLedger = errors.New("ledger: not enough steps")
)

// #region step-record
// StepRecord is one entry of the trajectory: where the agent stood after the
// step, how far it walked to get there, and why it chose to.
type StepRecord struct {
	graph.Position
	Distance               float64           `json:"distance"`
	Observation            string            `json:"overall_observation"`
	PerspectiveObservation map[string]string `json:"perspective_observation,omitempty"`
	Thought                string            `json:"thoughts"`
	Action                 int               `json:"action"`
	ActionDirection        string            `json:"action_direction"`
	Score                  float64           `json:"score"`
	Replayed               bool              `json:"replayed,omitempty"`
}

// #endregion step-record

// #region episode
// EpisodeMeta is everything Finalize needs that the ledger does not track.
type EpisodeMeta struct {
	EpisodeID    string
	Question     string
	QuestionIdx  int
	Idx          int
	From         string
	Goal         string
	Service      string
	Round        int
	Flag         bool
	RoundSuccess bool
	Outcome      string
	Backtracks   int
	Cost         float64
}

// EpisodeResult is the persisted record of one finished episode.
type EpisodeResult struct {
	EpisodeID     string       `json:"episode_id"`
	Question      string       `json:"question"`
	QuestionIdx   int          `json:"question_idx"`
	Idx           int          `json:"idx"`
	From          string       `json:"from"`
	To            string       `json:"to"`
	Goal          string       `json:"goal"`
	Service       string       `json:"service"`
	TotalWeight   float64      `json:"total_weight"`
	TotalSteps    int          `json:"total_steps"`
	Flag          bool         `json:"flag"`
	Cost          float64      `json:"cost"`
	Round         int          `json:"round"`
	RoundSuccess  bool         `json:"round_success"`
	Outcome       string       `json:"outcome"`
	Backtracks    int          `json:"backtracks"`
	CompleteRoute []StepRecord `json:"complete_route"`
}

// #endregion episode
