package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

// #region replay
// Replay re-issues the decisions recorded in an episode log, so a run can be
// reproduced against the same graph without the decision-maker that made it.
// Episodes are matched by question and round; within an episode the forward
// steps are replayed in order and a recorded stop is issued last.
type Replay struct {
	mu      sync.Mutex
	tapes   map[replayKey][]ledger.StepRecord
	stops   map[replayKey]bool
	cursors map[replayKey]int
}

type replayKey struct {
	question string
	round    int
}

// NewReplay indexes the recorded episodes.
func NewReplay(episodes []ledger.EpisodeResult) *Replay {
	r := &Replay{
		tapes:   map[replayKey][]ledger.StepRecord{},
		stops:   map[replayKey]bool{},
		cursors: map[replayKey]int{},
	}
	for _, ep := range episodes {
		key := replayKey{ep.Question, ep.Round}
		var forward []ledger.StepRecord
		for _, s := range ep.CompleteRoute {
			if !s.Replayed {
				forward = append(forward, s)
			}
		}
		r.tapes[key] = forward
		r.stops[key] = ep.Flag
	}
	return r
}

func (r *Replay) Decide(_ context.Context, req Request) (Decision, error) {
	key := replayKey{req.Question, req.Round}

	r.mu.Lock()
	defer r.mu.Unlock()

	tape, ok := r.tapes[key]
	if !ok {
		return Decision{}, fmt.Errorf("no recorded episode for %q round %d", req.Question, req.Round)
	}
	i := r.cursors[key]
	if i < len(tape) {
		r.cursors[key] = i + 1
		s := tape[i]
		return Decision{
			Action:                 s.Action,
			Score:                  s.Score,
			Thought:                s.Thought,
			Observation:            s.Observation,
			PerspectiveObservation: s.PerspectiveObservation,
		}, nil
	}
	if r.stops[key] {
		return Decision{Stop: true, Score: 1}, nil
	}
	return Decision{}, fmt.Errorf("recorded episode for %q round %d has no step %d", req.Question, req.Round, i+1)
}

// #endregion replay
