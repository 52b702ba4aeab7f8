package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cityseeker/CitySeeker/internal/episodes"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/navigation"
)

// #region fixture-tests

// TestFixture_RecordedStreet replays the checked-in episode log against the
// checked-in street graph. If the walk semantics change, this catches drift.
func TestFixture_RecordedStreet(t *testing.T) {
	store, err := episodes.NewStore(filepath.Join(t.TempDir(), "fixture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	gs, err := graph.NewGraphStore(store.DB())
	require.NoError(t, err)

	dot, err := os.ReadFile(filepath.Join("testdata", "street.dot"))
	require.NoError(t, err)
	_, err = gs.ImportDOT(context.Background(), string(dot))
	require.NoError(t, err)

	recorded, err := ledger.ReadJSONFile(filepath.Join("testdata", "episodes.json"))
	require.NoError(t, err)
	require.Len(t, recorded, 3)

	opts := navigation.DefaultOptions()
	opts.MaxSteps = 5
	results, err := Replay(context.Background(), gs, recorded, opts, nil)
	require.NoError(t, err)
	require.Len(t, results, len(recorded))

	for i, r := range results {
		assert.Equal(t, recorded[i].EpisodeID, r.EpisodeID)
		assert.NoError(t, r.Err, "episode %d", i)
		assert.True(t, r.Match, "episode %d diverged:\n%s", i, r.Diff)
	}
	assert.Equal(t, "d.jpg", results[1].Replayed.End)
	assert.Equal(t, "ABORTED", results[2].Replayed.Outcome)
}

// TestFixture_NotFound verifies error on a missing episode log.
func TestFixture_NotFound(t *testing.T) {
	_, err := ledger.ReadJSONFile(filepath.Join("testdata", "nonexistent.json"))
	assert.Error(t, err)
}

// #endregion fixture-tests
