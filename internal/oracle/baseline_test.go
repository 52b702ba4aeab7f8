package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

// #region baselines
func TestStraight(t *testing.T) {
	d, err := Straight{}.Decide(context.Background(), Request{ViewPoint: crossroads()})
	require.NoError(t, err)
	assert.Equal(t, 0, d.Action)
	assert.False(t, d.Stop)
	assert.Equal(t, BaselineScore, d.Score)

	_, err = Straight{}.Decide(context.Background(), Request{ViewPoint: graph.ViewPoint{}})
	assert.Error(t, err)
}

func TestRandomIsSeeded(t *testing.T) {
	a, b := NewRandom(7), NewRandom(7)
	req := Request{ViewPoint: crossroads()}
	for i := 0; i < 20; i++ {
		da, err := a.Decide(context.Background(), req)
		require.NoError(t, err)
		db, err := b.Decide(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, da.Action, db.Action)
		assert.GreaterOrEqual(t, da.Action, 0)
		assert.Less(t, da.Action, 4)
	}
}

// #endregion baselines

// #region replay
func recordedEpisode(flag bool) ledger.EpisodeResult {
	return ledger.EpisodeResult{
		Question: "find a pharmacy",
		Round:    1,
		Flag:     flag,
		CompleteRoute: []ledger.StepRecord{
			{Position: graph.Position{Filename: "b.jpg"}, Action: 1, Score: 0.8, Thought: "east"},
			{Position: graph.Position{Filename: "a.jpg"}, Action: -1, ActionDirection: "BACK", Replayed: true},
			{Position: graph.Position{Filename: "c.jpg"}, Action: 2, Score: 0.6},
		},
	}
}

func TestReplayReissuesForwardSteps(t *testing.T) {
	r := NewReplay([]ledger.EpisodeResult{recordedEpisode(true)})
	req := Request{Question: "find a pharmacy", Round: 1, ViewPoint: crossroads()}

	d, err := r.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Action)
	assert.Equal(t, "east", d.Thought)

	d, err = r.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Action)

	d, err = r.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Stop)
}

func TestReplayWithoutStop(t *testing.T) {
	r := NewReplay([]ledger.EpisodeResult{recordedEpisode(false)})
	req := Request{Question: "find a pharmacy", Round: 1}
	for i := 0; i < 2; i++ {
		_, err := r.Decide(context.Background(), req)
		require.NoError(t, err)
	}
	_, err := r.Decide(context.Background(), req)
	assert.Error(t, err)

	_, err = r.Decide(context.Background(), Request{Question: "find a pharmacy", Round: 2})
	assert.Error(t, err)
}

// #endregion replay
