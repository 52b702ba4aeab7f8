package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cityseeker/CitySeeker/internal/episodes"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/groundtruth"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/navigation"
	"github.com/anonymous-cityseeker/CitySeeker/internal/oracle"
)

// helper: a five-viewpoint street running east.
func street(t *testing.T) *graph.GraphStore {
	t.Helper()
	store, err := episodes.NewStore(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	gs, err := graph.NewGraphStore(store.DB())
	require.NoError(t, err)

	ctx := context.Background()
	ids := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}
	for i, id := range ids {
		var headings []float64
		if i < len(ids)-1 {
			headings = []float64{90}
		}
		require.NoError(t, gs.AddViewPoint(ctx, graph.ViewPoint{
			Position:         graph.Position{Filename: id, Longitude: 116 + float64(i)*0.0001, Latitude: 39},
			WalkableHeadings: headings,
		}))
	}
	for i := 0; i < len(ids)-1; i++ {
		require.NoError(t, gs.AddEdge(ctx, graph.Edge{Source: ids[i], Target: ids[i+1], Azimuth: 90, Distance: 10}))
	}
	return gs
}

func options() navigation.Options {
	opts := navigation.DefaultOptions()
	opts.MaxSteps = 3
	return opts
}

// helper: walk the task once with o and return the recording.
func record(t *testing.T, gs *graph.GraphStore, o oracle.Oracle, question string, round int) ledger.EpisodeResult {
	t.Helper()
	e, err := navigation.NewEngine(gs, o, options(), navigation.Deps{})
	require.NoError(t, err)
	res, err := e.Run(context.Background(), navigation.Task{
		Record: groundtruth.Record{
			Question:      question,
			Idx:           1,
			From:          "a.jpg",
			To:            "e.jpg",
			CompleteRoute: []graph.Position{{Filename: "a.jpg", Longitude: 116, Latitude: 39}},
		},
		Round: round,
	})
	require.NoError(t, err)
	return res
}

// stopAt walks forward and stops once it has been asked n times.
type stopAt struct {
	n     int
	calls int
}

func (s *stopAt) Decide(_ context.Context, _ oracle.Request) (oracle.Decision, error) {
	s.calls++
	if s.calls >= s.n {
		return oracle.Decision{Stop: true, Score: 1}, nil
	}
	return oracle.Decision{Action: 0, Score: 0.9}, nil
}

func TestReplay_ReproducesRecordedWalks(t *testing.T) {
	gs := street(t)
	exhausted := record(t, gs, oracle.Straight{}, "walk east", 1)
	reached := record(t, gs, &stopAt{n: 3}, "stop at c", 1)
	require.Equal(t, "EXHAUSTED", exhausted.Outcome)
	require.Equal(t, "REACHED", reached.Outcome)
	require.Equal(t, "c.jpg", reached.To)

	results, err := Replay(context.Background(), gs, []ledger.EpisodeResult{exhausted, reached}, options(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.True(t, r.Match, "episode %s diverged: %s", r.EpisodeID, r.Diff)
	}
	assert.Equal(t, "d.jpg", results[0].Replayed.End)
	assert.True(t, results[1].Replayed.Flag)
	assert.Equal(t, Summary{Total: 2, Matches: 2}, Summarize(results))
}

func TestReplay_ReportsDivergence(t *testing.T) {
	gs := street(t)
	rec := record(t, gs, oracle.Straight{}, "walk east", 1)
	rec.To = "e.jpg"
	rec.TotalSteps = 4

	results, err := Replay(context.Background(), gs, []ledger.EpisodeResult{rec}, options(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Match)
	assert.Contains(t, results[0].Diff, "End")
	assert.Contains(t, results[0].Diff, "Steps")
	assert.Equal(t, Summary{Total: 1, Diverged: 1}, Summarize(results))
}

func TestReplay_MissingStartFails(t *testing.T) {
	gs := street(t)
	rec := record(t, gs, oracle.Straight{}, "walk east", 1)
	rec.From = "nowhere.jpg"

	results, err := Replay(context.Background(), gs, []ledger.EpisodeResult{rec}, options(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Equal(t, Summary{Total: 1, Failed: 1}, Summarize(results))
}

func TestReplay_LatestRecordingWins(t *testing.T) {
	gs := street(t)
	older := record(t, gs, oracle.Straight{}, "walk east", 1)
	newer := record(t, gs, &stopAt{n: 2}, "walk east", 1)
	other := record(t, gs, oracle.Straight{}, "walk east", 2)

	results, err := Replay(context.Background(), gs, []ledger.EpisodeResult{older, other, newer}, options(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, other.EpisodeID, results[0].EpisodeID)
	assert.Equal(t, newer.EpisodeID, results[1].EpisodeID)
	assert.True(t, results[1].Match, results[1].Diff)
}

func TestReplay_Cancelled(t *testing.T) {
	gs := street(t)
	rec := record(t, gs, oracle.Straight{}, "walk east", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Replay(ctx, gs, []ledger.EpisodeResult{rec}, options(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
