package navigation

import (
	"github.com/anonymous-cityseeker/CitySeeker/internal/backtrack"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

// #region episode
// Episode owns everything that changes while one task is walked: the
// ledger, the backtrack windows and the position state. It is confined to
// the goroutine running it.
type Episode struct {
	ID   string
	Task Task
	Goal string

	state      State
	ledger     *ledger.Ledger
	controller *backtrack.Controller // nil when backtracking is off

	counter     int // step counter, starts at 1
	previous    *graph.Position
	lastForward *float64
	backtracked bool
	hint        *int
	backtracks  int
	flag        bool // the decision-maker asked to stop
	reason      string

	visited []string
	seen    map[string]bool
	last    lastStep
}

// lastStep is what the previous forward move looked like, written next to
// each decision node so a node's annotations describe both the move that
// arrived there and the move that left.
type lastStep struct {
	filename  string
	action    int
	direction string
	score     float64
}

func newEpisode(id string, task Task, controller *backtrack.Controller) *Episode {
	start := task.Record.Start()
	ep := &Episode{
		ID:         id,
		Task:       task,
		Goal:       task.Record.Goal(),
		state:      AwaitingDecision,
		ledger:     ledger.New(start),
		controller: controller,
		counter:    1,
		seen:       make(map[string]bool),
		last:       lastStep{action: -1},
	}
	return ep
}

// State is the current state of the step loop.
func (ep *Episode) State() State { return ep.state }

// Current is where the agent stands.
func (ep *Episode) Current() graph.Position { return ep.ledger.Current() }

// Visited lists the viewpoints this episode stood on, in first-visit order.
func (ep *Episode) Visited() []string {
	out := make([]string, len(ep.visited))
	copy(out, ep.visited)
	return out
}

// stoodOn records id and reports whether it is new to this episode.
func (ep *Episode) stoodOn(id string) bool {
	if ep.seen[id] {
		return false
	}
	ep.seen[id] = true
	ep.visited = append(ep.visited, id)
	return true
}

func (ep *Episode) abort(reason string) {
	ep.state = Aborted
	ep.reason = reason
}

// #endregion episode
