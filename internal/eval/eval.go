package eval

import (
	"fmt"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

// #region criterion
// Criterion decides whether a finished round counts as a success.
type Criterion struct {
	source  string
	program *vm.Program
}

// NewCriterion compiles a boolean expression over Env. An empty source
// means DefaultSuccessExpr.
func NewCriterion(source string) (*Criterion, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		source = DefaultSuccessExpr
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile success expression %q: %w", source, err)
	}
	return &Criterion{source: source, program: program}, nil
}

// String returns the expression source.
func (c *Criterion) String() string { return c.source }

// Success evaluates the criterion against env.
func (c *Criterion) Success(env Env) (bool, error) {
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("success expression must evaluate to bool (got %T)", out)
	}
	return b, nil
}

// #endregion criterion

// #region summarize
// Summarize aggregates episode results. Rates are zero for an empty set.
func Summarize(results []ledger.EpisodeResult) Summary {
	s := Summary{Episodes: len(results), Outcomes: map[string]int{}}
	if len(results) == 0 {
		return s
	}

	type tally struct{ episodes, successes int }
	rounds := map[int]*tally{}
	var steps, distance, cost float64
	for _, r := range results {
		if r.Flag {
			s.Stopped++
		}
		if r.RoundSuccess {
			s.RoundSuccesses++
		}
		s.Backtracks += r.Backtracks
		s.Outcomes[r.Outcome]++
		steps += float64(r.TotalSteps)
		distance += r.TotalWeight
		cost += r.Cost

		t, ok := rounds[r.Round]
		if !ok {
			t = &tally{}
			rounds[r.Round] = t
		}
		t.episodes++
		if r.RoundSuccess {
			t.successes++
		}
	}

	n := float64(len(results))
	s.SuccessRate = float64(s.Stopped) / n
	s.RoundSuccessRate = float64(s.RoundSuccesses) / n
	s.MeanSteps = steps / n
	s.MeanDistance = distance / n
	s.MeanCost = cost / n

	for round, t := range rounds {
		s.Rounds = append(s.Rounds, RoundSummary{
			Round:            round,
			Episodes:         t.episodes,
			RoundSuccessRate: float64(t.successes) / float64(t.episodes),
		})
	}
	slices.SortFunc(s.Rounds, func(a, b RoundSummary) int { return a.Round - b.Round })
	return s
}

// #endregion summarize
