package navigation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/groundtruth"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/oracle"
)

// #region fake-store
// memoryGraph is a map-backed GraphStore for tests that must not start
// database goroutines.
type memoryGraph struct {
	mu     sync.Mutex
	points map[string]graph.ViewPoint
	edges  map[string][]graph.Edge
	writes int
}

// parallelLines builds one eastward street per prefix, each n viewpoints long.
func parallelLines(prefixes []string, n int) *memoryGraph {
	g := &memoryGraph{points: map[string]graph.ViewPoint{}, edges: map[string][]graph.Edge{}}
	for row, p := range prefixes {
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("%s%d.jpg", p, i)
			vp := graph.ViewPoint{Position: graph.Position{Filename: id, Longitude: 116 + float64(i)*0.0001, Latitude: 39 + float64(row)*0.01}}
			if i < n-1 {
				vp.WalkableHeadings = []float64{90}
				g.edges[id] = []graph.Edge{{Source: id, Target: fmt.Sprintf("%s%d.jpg", p, i+1), Azimuth: 90, Distance: 10}}
			}
			g.points[id] = vp
		}
	}
	return g
}

func (g *memoryGraph) ViewPoint(_ context.Context, id string) (graph.ViewPoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	vp, ok := g.points[id]
	if !ok {
		return graph.ViewPoint{}, graph.ErrNotFound
	}
	return vp, nil
}

func (g *memoryGraph) ClosestEdgeByAzimuth(_ context.Context, id string, azimuth float64) (graph.Position, float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	edges := g.edges[id]
	if len(edges) == 0 {
		return graph.Position{}, 0, graph.ErrNotFound
	}
	e := graph.ClosestEdge(edges, azimuth)
	return g.points[e.Target].Position, e.Distance, nil
}

func (g *memoryGraph) Nodes(_ context.Context, ids []string) ([]graph.NodeContext, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []graph.NodeContext
	for _, id := range ids {
		if vp, ok := g.points[id]; ok {
			out = append(out, graph.NodeContext{Position: vp.Position})
		}
	}
	return out, nil
}

func (g *memoryGraph) Neighborhood(context.Context, string, graph.NeighborhoodMode, float64) ([]graph.NodeContext, error) {
	return nil, nil
}

func (g *memoryGraph) ShortestPathLength(_ context.Context, a, b string) (int, error) {
	if a == b {
		return 0, nil
	}
	return 0, graph.ErrNotFound
}

func (g *memoryGraph) WriteNodeAttributes(context.Context, string, graph.Attributes) error {
	return g.write()
}

func (g *memoryGraph) WriteEdgeAttributes(context.Context, string, string, graph.Attributes) error {
	return g.write()
}

func (g *memoryGraph) MarkVisited(context.Context, []string, graph.VisitStatus) error {
	return g.write()
}

func (g *memoryGraph) ResetAnnotations(context.Context) error { return g.write() }

func (g *memoryGraph) write() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes++
	return nil
}

func record(idx int, prefix string) groundtruth.Record {
	return groundtruth.Record{
		Question:      "walk east",
		Idx:           idx,
		CompleteRoute: []graph.Position{{Filename: prefix + "0.jpg"}, {Filename: prefix + "3.jpg"}},
	}
}

// #endregion fake-store

func TestRunBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := parallelLines([]string{"p", "q", "r"}, 4)
	opts := DefaultOptions()
	opts.MaxSteps = 3
	sink := &memorySink{}
	e, err := NewEngine(g, oracle.Straight{}, opts, Deps{Sink: sink})
	require.NoError(t, err)

	records := []groundtruth.Record{
		record(0, "p"),
		{Question: "broken", Idx: 1},
		record(2, "q"),
		record(3, "r"),
	}
	report, err := e.RunBatch(context.Background(), records, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Results, 6)
	assert.Equal(t, 6, sink.len())

	for i, res := range report.Results {
		assert.Equal(t, i%2+1, res.Round, "rounds ascend per record")
		assert.Equal(t, Exhausted.String(), res.Outcome)
		assert.True(t, res.RoundSuccess)
		assert.Equal(t, 3, res.TotalSteps)
	}
	idx := []int{report.Results[0].Idx, report.Results[2].Idx, report.Results[4].Idx}
	assert.Equal(t, []int{0, 2, 3}, idx)

	ids := map[string]bool{}
	for _, res := range report.Results {
		ids[res.EpisodeID] = true
	}
	assert.Len(t, ids, 6)
	assert.Positive(t, g.writes)
}

func TestRunBatchStopsOnSinkFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := parallelLines([]string{"p", "q"}, 4)
	opts := DefaultOptions()
	opts.MaxSteps = 2
	sink := &memorySink{err: errors.New("disk full")}
	e, err := NewEngine(g, oracle.Straight{}, opts, Deps{Sink: sink})
	require.NoError(t, err)

	_, err = e.RunBatch(context.Background(), []groundtruth.Record{record(0, "p"), record(1, "q")}, 3, 1)
	assert.ErrorContains(t, err, "disk full")
}

func TestRunBatchCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := parallelLines([]string{"p", "q", "r"}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var calls int
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (oracle.Decision, error) {
		mu.Lock()
		calls++
		if calls == 2 {
			cancel()
		}
		mu.Unlock()
		return oracle.Straight{}.Decide(ctx, req)
	})
	e, err := NewEngine(g, o, DefaultOptions(), Deps{})
	require.NoError(t, err)

	report, err := e.RunBatch(ctx, []groundtruth.Record{record(0, "p"), record(1, "q"), record(2, "r")}, 1, 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(report.Results), 3)
}

func TestRunBatchDefaultsWorkersAndRepeat(t *testing.T) {
	g := parallelLines([]string{"p"}, 3)
	opts := DefaultOptions()
	opts.MaxSteps = 5
	e, err := NewEngine(g, oracle.Straight{}, opts, Deps{})
	require.NoError(t, err)

	report, err := e.RunBatch(context.Background(), []groundtruth.Record{record(0, "p")}, 0, 0)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	// p2.jpg has no walkable heading, so the walk aborts there.
	assert.Equal(t, Aborted.String(), report.Results[0].Outcome)
	assert.Equal(t, "p2.jpg", report.Results[0].To)

	var rounds []int
	for _, r := range report.Results {
		rounds = append(rounds, r.Round)
	}
	sort.Ints(rounds)
	assert.Equal(t, []int{1}, rounds)
}

// signalSink closes done once the episode for question has been written.
type signalSink struct {
	memorySink
	question string
	once     sync.Once
	done     chan struct{}
}

func (s *signalSink) Write(ctx context.Context, res ledger.EpisodeResult) error {
	if err := s.memorySink.Write(ctx, res); err != nil {
		return err
	}
	if res.Question == s.question {
		s.once.Do(func() { close(s.done) })
	}
	return nil
}

func TestRunBatchSharedStreet(t *testing.T) {
	f := newFixture(t)
	f.line(t, 4, false)
	f.options.Retrieval.Epoch = 1
	ctx := context.Background()

	sink := &signalSink{question: "stop at b", done: make(chan struct{})}
	var (
		waited     bool
		bStatus    graph.VisitStatus
		walkedEdge graph.Attributes
	)
	// The walker steps onto b, then holds there until the other episode,
	// which starts and stops on b, has finished.
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (oracle.Decision, error) {
		if req.Question == "stop at b" {
			return oracle.Decision{Stop: true, Score: 1}, nil
		}
		if req.Current.Filename == "a.jpg" {
			return oracle.Decision{Action: 0, Score: 0.9}, nil
		}
		select {
		case <-sink.done:
			waited = true
		case <-time.After(10 * time.Second):
			return oracle.Decision{Stop: true, Score: 1}, nil
		}
		nodes, err := f.graph.Nodes(ctx, []string{"b.jpg"})
		if err == nil && len(nodes) == 1 {
			bStatus = nodes[0].Visited
		}
		edges, err := f.graph.OutgoingEdges(ctx, "a.jpg")
		if err == nil && len(edges) == 1 {
			walkedEdge = edges[0].Attrs
		}
		return oracle.Decision{Stop: true, Score: 1}, nil
	})
	e, err := NewEngine(f.graph, o, f.options, Deps{Sink: sink})
	require.NoError(t, err)

	records := []groundtruth.Record{
		{Question: "stop at b", Idx: 0, To: "d.jpg", CompleteRoute: []graph.Position{{Filename: "b.jpg", Longitude: 116.0001, Latitude: 39}}},
		{Question: "walk to b", Idx: 1, To: "d.jpg", CompleteRoute: []graph.Position{{Filename: "a.jpg", Longitude: 116, Latitude: 39}}},
	}
	report, err := e.RunBatch(ctx, records, 1, 2)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "b.jpg", report.Results[1].To)

	require.True(t, waited, "walker never saw the other episode finish")
	assert.Equal(t, graph.CurrentVisited, bStatus, "b handed to history while still stood on")
	assert.Equal(t, float64(1), walkedEdge["step"], "walker's edge annotation reset mid-round")

	// Both episodes are done: everything is history and the epoch reset ran.
	nodes, err := f.graph.Nodes(ctx, []string{"a.jpg", "b.jpg"})
	require.NoError(t, err)
	for _, n := range nodes {
		assert.Equal(t, graph.HistoryVisited, n.Visited, n.Filename)
		assert.Empty(t, n.Attrs, n.Filename)
	}
}
