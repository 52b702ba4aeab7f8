package episodes

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "citynav.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func episode(id string, round int, success bool) ledger.EpisodeResult {
	return ledger.EpisodeResult{
		EpisodeID:    id,
		Question:     "find a cafe",
		Round:        round,
		Flag:         true,
		RoundSuccess: success,
		Outcome:      "REACHED",
		TotalSteps:   2,
		TotalWeight:  12.5,
		CompleteRoute: []ledger.StepRecord{
			{Position: graph.Position{Filename: "b.jpg", Longitude: 116.1, Latitude: 39.9}, Distance: 5, Action: 1, Score: 0.8},
			{Position: graph.Position{Filename: "c.jpg"}, Distance: 7.5, Action: 0, Score: 0.9},
		},
	}
}

func TestWriteAndGet(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	want := episode("ep-1", 1, true)
	require.NoError(t, s.Write(ctx, want))

	got, err := s.Get(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteRejectsBadEpisodes(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	assert.Error(t, s.Write(ctx, ledger.EpisodeResult{Question: "q"}))

	require.NoError(t, s.Write(ctx, episode("dup", 1, false)))
	assert.Error(t, s.Write(ctx, episode("dup", 2, false)))
}

func TestRunsAndList(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	runID, err := s.StartRun(ctx, map[string]any{"max_steps": 35})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	sink := s.RunSink(runID)
	require.NoError(t, sink.Write(ctx, episode("ep-1", 1, true)))
	require.NoError(t, sink.Write(ctx, episode("ep-2", 2, false)))
	require.NoError(t, s.Write(ctx, episode("loose", 1, false)))

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ep-1", all[0].EpisodeID)
	assert.Equal(t, "loose", all[2].EpisodeID)

	inRun, err := s.List(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, inRun, 2)
	assert.Equal(t, "ep-2", inRun[1].EpisodeID)

	latest, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "loose", latest[0].EpisodeID)

	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, 2, runs[0].Episodes)
	assert.JSONEq(t, `{"max_steps": 35}`, runs[0].Config)
	assert.False(t, runs[0].StartedAt.IsZero())
}

func TestRunSinkUnknownRun(t *testing.T) {
	s := tempStore(t)
	err := s.RunSink("missing-run").Write(context.Background(), episode("ep-x", 1, false))
	assert.Error(t, err)
}

func TestStoreIsASink(t *testing.T) {
	var _ ledger.Sink = tempStore(t)
}
