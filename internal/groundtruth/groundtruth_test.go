package groundtruth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	records, err := Load(filepath.Join("testdata", "routes.json"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, "bank", r.Service)
	assert.Equal(t, "a.jpg", r.Start().Filename)
	assert.Equal(t, "d.jpg", r.Goal())
	assert.Len(t, r.CompleteRoute, 3)
	assert.Equal(t, 116.001, r.CompleteRoute[1].Longitude)

	// no "to": the goal is the last route node
	assert.Equal(t, "d.jpg", records[1].Goal())
	assert.Equal(t, 3, records[1].Idx)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"question": "not an array"}`), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty-route.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[{"question": "q", "complete_route": []}]`), 0o644))
	_, err = Load(empty)
	assert.ErrorContains(t, err, "empty route")
}

func TestWindow(t *testing.T) {
	records := make([]Record, 5)
	for i := range records {
		records[i].Idx = i
	}
	idx := func(rs []Record) []int {
		var out []int
		for _, r := range rs {
			out = append(out, r.Idx)
		}
		return out
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, idx(Window(records, 0, 0)))
	assert.Equal(t, []int{1, 2}, idx(Window(records, 1, 2)))
	assert.Equal(t, []int{3, 4}, idx(Window(records, 3, 10)))
	assert.Empty(t, Window(records, 7, 1))
}
