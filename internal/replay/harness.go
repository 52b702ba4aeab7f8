// Package replay re-walks recorded episodes against the current graph with
// the recorded decisions and reports the episodes that no longer end the way
// they did.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/groundtruth"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/navigation"
	"github.com/anonymous-cityseeker/CitySeeker/internal/oracle"
)

// #region types
// Walk is the part of an episode a replay is expected to reproduce.
type Walk struct {
	Outcome  string
	End      string
	Steps    int
	Distance float64
	Flag     bool
}

// WalkOf extracts the comparable outcome of a finished episode.
func WalkOf(res ledger.EpisodeResult) Walk {
	return Walk{
		Outcome:  res.Outcome,
		End:      res.To,
		Steps:    res.TotalSteps,
		Distance: res.TotalWeight,
		Flag:     res.Flag,
	}
}

// Result pairs one recorded episode with its re-walk.
type Result struct {
	EpisodeID string
	Idx       int
	Round     int
	Expected  Walk
	Replayed  Walk
	Match     bool
	Diff      string // empty when Match
	Err       error  // the episode could not be re-walked
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total    int
	Matches  int
	Diverged int
	Failed   int
}

// #endregion types

// #region replay
// Replay re-walks every recorded episode in order. When the log holds the
// same question and round more than once, only the latest recording is
// replayed. Per-episode failures land in Result.Err; only cancellation
// stops the replay early.
//
// The walks annotate the graph exactly as a run does.
func Replay(ctx context.Context, store navigation.GraphStore, recorded []ledger.EpisodeResult, opts navigation.Options, logger *zap.Logger) ([]Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	episodes := latest(recorded)
	engine, err := navigation.NewEngine(store, oracle.NewReplay(episodes), opts, navigation.Deps{Logger: logger})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(episodes))
	for _, rec := range episodes {
		r := Result{
			EpisodeID: rec.EpisodeID,
			Idx:       rec.Idx,
			Round:     rec.Round,
			Expected:  WalkOf(rec),
		}
		task, err := taskOf(ctx, store, rec)
		if err == nil {
			var res ledger.EpisodeResult
			res, err = engine.Run(ctx, task)
			r.Replayed = WalkOf(res)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return results, err
			}
			r.Err = err
			logger.Warn("episode replay failed", zap.String("episode", rec.EpisodeID), zap.Error(err))
			results = append(results, r)
			continue
		}
		r.Diff = cmp.Diff(r.Expected, r.Replayed, cmpopts.EquateApprox(0, 1e-6))
		r.Match = r.Diff == ""
		if !r.Match {
			logger.Info("episode diverged",
				zap.String("episode", rec.EpisodeID),
				zap.String("expected", r.Expected.Outcome),
				zap.String("replayed", r.Replayed.Outcome))
		}
		results = append(results, r)
	}
	return results, nil
}

// taskOf rebuilds the task a recording was walked for. The start position is
// looked up in the graph since the log keeps only its filename.
func taskOf(ctx context.Context, store navigation.GraphStore, rec ledger.EpisodeResult) (navigation.Task, error) {
	vp, err := store.ViewPoint(ctx, rec.From)
	if err != nil {
		return navigation.Task{}, fmt.Errorf("start %s: %w", rec.From, err)
	}
	return navigation.Task{
		Record: groundtruth.Record{
			Question:      rec.Question,
			QuestionIdx:   rec.QuestionIdx,
			Idx:           rec.Idx,
			From:          rec.From,
			To:            rec.Goal,
			Service:       rec.Service,
			CompleteRoute: []graph.Position{vp.Position},
		},
		Round: rec.Round,
	}, nil
}

func latest(recorded []ledger.EpisodeResult) []ledger.EpisodeResult {
	type key struct {
		question string
		round    int
	}
	last := map[key]int{}
	for i, rec := range recorded {
		last[key{rec.Question, rec.Round}] = i
	}
	out := make([]ledger.EpisodeResult, 0, len(last))
	for i, rec := range recorded {
		if last[key{rec.Question, rec.Round}] == i {
			out = append(out, rec)
		}
	}
	return out
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failed++
		case r.Match:
			s.Matches++
		default:
			s.Diverged++
		}
	}
	return s
}

// #endregion replay
