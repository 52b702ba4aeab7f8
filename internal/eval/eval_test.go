package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

func TestDefaultCriterionIsAtGoal(t *testing.T) {
	c, err := NewCriterion("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSuccessExpr, c.String())

	ok, err := c.Success(Env{AtGoal: true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Success(Env{AtGoal: false, Flag: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCustomCriterion(t *testing.T) {
	c, err := NewCriterion("flag && goal_hops >= 0 && goal_hops <= 1")
	require.NoError(t, err)

	ok, err := c.Success(Env{Flag: true, GoalHops: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Success(Env{Flag: true, GoalHops: -1})
	require.NoError(t, err)
	assert.False(t, ok)

	c, err = NewCriterion(`outcome == "REACHED" && distance < 100 && backtracks == 0`)
	require.NoError(t, err)
	ok, err = c.Success(Env{Outcome: "REACHED", Distance: 42})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCriterionRejectsBadExpressions(t *testing.T) {
	_, err := NewCriterion("steps + 1")
	assert.Error(t, err)

	_, err = NewCriterion("no_such_field")
	assert.Error(t, err)

	_, err = NewCriterion("at_goal &&")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	results := []ledger.EpisodeResult{
		{Round: 1, Flag: true, RoundSuccess: true, TotalSteps: 4, TotalWeight: 40, Cost: 2, Outcome: "REACHED"},
		{Round: 1, Flag: false, RoundSuccess: false, TotalSteps: 10, TotalWeight: 100, Cost: 4, Outcome: "EXHAUSTED", Backtracks: 2},
		{Round: 2, Flag: true, RoundSuccess: false, TotalSteps: 7, TotalWeight: 70, Cost: 3, Outcome: "REACHED", Backtracks: 1},
		{Round: 2, Flag: false, RoundSuccess: false, TotalSteps: 3, TotalWeight: 30, Cost: 3, Outcome: "ABORTED"},
	}
	s := Summarize(results)

	assert.Equal(t, 4, s.Episodes)
	assert.Equal(t, 2, s.Stopped)
	assert.Equal(t, 1, s.RoundSuccesses)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)
	assert.InDelta(t, 0.25, s.RoundSuccessRate, 1e-9)
	assert.InDelta(t, 6.0, s.MeanSteps, 1e-9)
	assert.InDelta(t, 60.0, s.MeanDistance, 1e-9)
	assert.InDelta(t, 3.0, s.MeanCost, 1e-9)
	assert.Equal(t, 3, s.Backtracks)
	assert.Equal(t, map[string]int{"REACHED": 2, "EXHAUSTED": 1, "ABORTED": 1}, s.Outcomes)
	assert.Equal(t, []RoundSummary{
		{Round: 1, Episodes: 2, RoundSuccessRate: 0.5},
		{Round: 2, Episodes: 2, RoundSuccessRate: 0},
	}, s.Rounds)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Episodes)
	assert.Zero(t, s.SuccessRate)
	assert.Empty(t, s.Outcomes)
}
