package navigation

import (
	"context"
	"fmt"

	"github.com/anonymous-cityseeker/CitySeeker/internal/backtrack"
	"github.com/anonymous-cityseeker/CitySeeker/internal/config"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/groundtruth"
)

// #region state
// State is where an episode is in its step loop.
type State int

const (
	AwaitingDecision State = iota
	ResolvingMove
	Logged
	Backtracking
	Reached
	Exhausted
	Aborted
)

func (s State) String() string {
	switch s {
	case AwaitingDecision:
		return "AWAITING_DECISION"
	case ResolvingMove:
		return "RESOLVING_MOVE"
	case Logged:
		return "LOGGED"
	case Backtracking:
		return "BACKTRACKING"
	case Reached:
		return "REACHED"
	case Exhausted:
		return "EXHAUSTED"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the episode has ended.
func (s State) Terminal() bool {
	return s == Reached || s == Exhausted || s == Aborted
}

// #endregion state

// #region graph-store
// GraphStore is the part of the viewpoint graph an episode reads and
// annotates. *graph.GraphStore satisfies it.
type GraphStore interface {
	ViewPoint(ctx context.Context, id string) (graph.ViewPoint, error)
	ClosestEdgeByAzimuth(ctx context.Context, id string, azimuth float64) (graph.Position, float64, error)
	Nodes(ctx context.Context, ids []string) ([]graph.NodeContext, error)
	Neighborhood(ctx context.Context, id string, mode graph.NeighborhoodMode, radius float64) ([]graph.NodeContext, error)
	ShortestPathLength(ctx context.Context, a, b string) (int, error)
	WriteNodeAttributes(ctx context.Context, id string, attrs graph.Attributes) error
	WriteEdgeAttributes(ctx context.Context, source, target string, attrs graph.Attributes) error
	MarkVisited(ctx context.Context, ids []string, status graph.VisitStatus) error
	ResetAnnotations(ctx context.Context) error
}

// #endregion graph-store

// #region options
// Options tune the step loop.
type Options struct {
	MaxSteps      int
	FallbackScore float64

	Backtrack BacktrackOptions
	Retrieval RetrievalOptions
	History   HistoryOptions
}

type BacktrackOptions struct {
	Enabled   bool
	Steps     int
	Policy    string
	Threshold float64
	Mode      backtrack.Mode
}

// RetrievalOptions control the neighborhood context. Context is only added
// on rounds that are a multiple of Epoch, and Epoch is also the cadence at
// which per-round annotations are cleared.
type RetrievalOptions struct {
	Enabled bool
	Epoch   int
	Mode    graph.NeighborhoodMode
	Radius  float64
}

type HistoryOptions struct {
	Enabled bool
	Steps   int
}

// DefaultOptions mirrors config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps the run configuration onto engine options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxSteps:      cfg.Run.MaxSteps,
		FallbackScore: cfg.Oracle.FallbackScore,
		Backtrack: BacktrackOptions{
			Enabled:   cfg.Backtrack.Enabled,
			Steps:     cfg.Backtrack.Steps,
			Policy:    cfg.Backtrack.Policy,
			Threshold: cfg.Backtrack.Threshold,
			Mode:      backtrack.Mode(cfg.Backtrack.Mode),
		},
		Retrieval: RetrievalOptions{
			Enabled: cfg.Retrieval.Enabled,
			Epoch:   cfg.Retrieval.Epoch,
			Mode:    graph.NeighborhoodMode(cfg.Retrieval.Mode),
			Radius:  cfg.Retrieval.Radius,
		},
		History: HistoryOptions{
			Enabled: cfg.History.Enabled,
			Steps:   cfg.History.Steps,
		},
	}
}

func (o Options) validate() error {
	if o.MaxSteps < 1 {
		return fmt.Errorf("max steps must be at least 1, got %d", o.MaxSteps)
	}
	if o.Retrieval.Epoch < 1 {
		return fmt.Errorf("retrieval epoch must be at least 1, got %d", o.Retrieval.Epoch)
	}
	if o.History.Enabled && o.History.Steps < 1 {
		return fmt.Errorf("history steps must be at least 1, got %d", o.History.Steps)
	}
	return nil
}

// #endregion options

// #region task
// Task is one episode to run: a ground-truth record and the repetition index.
type Task struct {
	Record groundtruth.Record
	Round  int
}

// #endregion task
