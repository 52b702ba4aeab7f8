// Package ledger records the trajectory of a single episode and flushes it
// to persistent sinks once the episode ends.
package ledger

import (
	"fmt"

	"github.com/anonymous-cityseeker/CitySeeker/internal/compass"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

// #region ledger
// Ledger is the ordered step log of one episode. It is not safe for
// concurrent use; each episode owns its own.
type Ledger struct {
	origin    graph.Position
	steps     []StepRecord
	finalized bool
}

// New starts a ledger at origin. Origin is the current position until the
// first Append.
func New(origin graph.Position) *Ledger {
	return &Ledger{origin: origin}
}

// Append adds a record; its position becomes the current position.
func (l *Ledger) Append(rec StepRecord) error {
	if l.finalized {
		return ErrFinalized
	}
	l.steps = append(l.steps, rec)
	return nil
}

// Current is the position of the last record, or the origin.
func (l *Ledger) Current() graph.Position {
	if len(l.steps) == 0 {
		return l.origin
	}
	return l.steps[len(l.steps)-1].Position
}

// Origin is where the episode started.
func (l *Ledger) Origin() graph.Position { return l.origin }

// Len is the number of step records.
func (l *Ledger) Len() int { return len(l.steps) }

// Snapshot returns a copy of the records.
func (l *Ledger) Snapshot() []StepRecord {
	out := make([]StepRecord, len(l.steps))
	copy(out, l.steps)
	return out
}

// Distances returns the per-step distances, one per record.
func (l *Ledger) Distances() []float64 {
	out := make([]float64, len(l.steps))
	for i, s := range l.steps {
		out[i] = s.Distance
	}
	return out
}

// TotalDistance sums every step distance, replayed ones included.
func (l *Ledger) TotalDistance() float64 {
	var sum float64
	for _, s := range l.steps {
		sum += s.Distance
	}
	return sum
}

// Last returns up to n most recent positions, oldest first.
func (l *Ledger) Last(n int) []graph.Position {
	if n > len(l.steps) {
		n = len(l.steps)
	}
	out := make([]graph.Position, 0, n)
	for _, s := range l.steps[len(l.steps)-n:] {
		out = append(out, s.Position)
	}
	return out
}

// #endregion ledger

// #region rewind
// TruncateLast erases the last n records.
func (l *Ledger) TruncateLast(n int) error {
	if l.finalized {
		return ErrFinalized
	}
	if n < 0 || n > len(l.steps) {
		return fmt.Errorf("truncate %d of %d: %w", n, len(l.steps), ErrShortLedger)
	}
	l.steps = l.steps[:len(l.steps)-n]
	return nil
}

// ReplayLast walks back over the last n moves, appending one record per move
// undone. Each replayed record stands on the position before that move and
// costs the move's distance. Afterwards Current is the position held n moves
// ago. Returns the appended records.
func (l *Ledger) ReplayLast(n int) ([]StepRecord, error) {
	if l.finalized {
		return nil, ErrFinalized
	}
	if n < 0 || n > len(l.steps) {
		return nil, fmt.Errorf("replay %d of %d: %w", n, len(l.steps), ErrShortLedger)
	}

	end := len(l.steps)
	replayed := make([]StepRecord, 0, n)
	for j := end - 1; j >= end-n; j-- {
		back := l.origin
		if j > 0 {
			back = l.steps[j-1].Position
		}
		replayed = append(replayed, StepRecord{
			Position:        back,
			Distance:        l.steps[j].Distance,
			Action:          -1,
			ActionDirection: compass.Back.String(),
			Replayed:        true,
		})
	}
	l.steps = append(l.steps, replayed...)
	return replayed, nil
}

// #endregion rewind

// #region finalize
// Finalize produces the episode record and clears the ledger. It succeeds
// exactly once.
func (l *Ledger) Finalize(meta EpisodeMeta) (EpisodeResult, error) {
	if l.finalized {
		return EpisodeResult{}, ErrFinalized
	}
	res := EpisodeResult{
		EpisodeID:     meta.EpisodeID,
		Question:      meta.Question,
		QuestionIdx:   meta.QuestionIdx,
		Idx:           meta.Idx,
		From:          meta.From,
		To:            l.Current().Filename,
		Goal:          meta.Goal,
		Service:       meta.Service,
		TotalWeight:   l.TotalDistance(),
		TotalSteps:    len(l.steps),
		Flag:          meta.Flag,
		Cost:          meta.Cost,
		Round:         meta.Round,
		RoundSuccess:  meta.RoundSuccess,
		Outcome:       meta.Outcome,
		Backtracks:    meta.Backtracks,
		CompleteRoute: l.Snapshot(),
	}
	l.steps = nil
	l.finalized = true
	return res, nil
}

// Finalized reports whether Finalize has run.
func (l *Ledger) Finalized() bool { return l.finalized }

// #endregion finalize
