// Package backtrack decides when an agent is lost and rewinds its trajectory.
//
// The controller keeps a sliding window of the last k per-step samples. A
// Policy inspects the window once it is full; when the policy reports the
// agent as lost, the controller rewinds the ledger by k steps and clears its
// windows.
package backtrack

import (
	"fmt"

	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

// #region constants
const (
	// DefaultSteps is the window size k.
	DefaultSteps = 3
	// DefaultThreshold is the confidence below which the agent is lost.
	DefaultThreshold = 0.75
)

// #endregion constants

// #region window
// Window is a bounded FIFO of samples.
type Window struct {
	size    int
	samples []float64
}

// NewWindow creates a window holding at most size samples.
func NewWindow(size int) *Window {
	return &Window{size: size, samples: make([]float64, 0, size)}
}

// Push appends v, evicting the oldest sample when full.
func (w *Window) Push(v float64) {
	if len(w.samples) == w.size {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.size-1]
	}
	w.samples = append(w.samples, v)
}

// Full reports whether the window holds exactly size samples.
func (w *Window) Full() bool { return len(w.samples) == w.size }

// Len is the number of samples held.
func (w *Window) Len() int { return len(w.samples) }

// Values returns a copy of the samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)
	return out
}

// Reset empties the window.
func (w *Window) Reset() { w.samples = w.samples[:0] }

// #endregion window

// #region mode
// Mode selects how a rewind rewrites the ledger.
type Mode string

const (
	// Replay re-appends the rewound positions in reverse.
	Replay Mode = "replay"
	// Truncate erases the rewound entries.
	Truncate Mode = "truncate"
)

// #endregion mode

// #region controller
// Controller owns the score and action windows of one episode.
type Controller struct {
	policy  Policy
	k       int
	mode    Mode
	samples *Window
	actions []int
}

// NewController builds a controller with window size k.
func NewController(policy Policy, k int, mode Mode) (*Controller, error) {
	if k <= 0 {
		return nil, fmt.Errorf("backtrack steps must be positive, got %d", k)
	}
	if policy == nil {
		return nil, fmt.Errorf("backtrack policy is required")
	}
	switch mode {
	case Replay, Truncate:
	default:
		return nil, fmt.Errorf("unknown backtrack mode %q", mode)
	}
	return &Controller{
		policy:  policy,
		k:       k,
		mode:    mode,
		samples: NewWindow(k),
		actions: make([]int, 0, k),
	}, nil
}

// Steps is the window size k.
func (c *Controller) Steps() int { return c.k }

// Policy is the lostness policy in use.
func (c *Controller) Policy() Policy { return c.policy }

// Observe records one step's sample and chosen action index, and reports
// whether the agent is lost. It only evaluates once the window is full.
func (c *Controller) Observe(sample float64, action int) bool {
	c.samples.Push(sample)
	if len(c.actions) == c.k {
		copy(c.actions, c.actions[1:])
		c.actions = c.actions[:c.k-1]
	}
	c.actions = append(c.actions, action)

	if !c.samples.Full() {
		return false
	}
	return c.policy.Lost(c.samples.Values())
}

// Samples returns the current window contents.
func (c *Controller) Samples() []float64 { return c.samples.Values() }

// Reset clears both windows.
func (c *Controller) Reset() {
	c.samples.Reset()
	c.actions = c.actions[:0]
}

// #endregion controller

// #region rewind
// Rewind is the outcome of a backtrack.
type Rewind struct {
	// Hint is the action originally taken at the restore position, or -1.
	Hint     int
	Replayed []ledger.StepRecord
}

// Rewind moves the ledger back k steps and clears the windows. With Replay
// the walked-back positions are appended; with Truncate they are erased.
// Either way the ledger's current position ends k moves back.
func (c *Controller) Rewind(l *ledger.Ledger) (Rewind, error) {
	hint := -1
	if len(c.actions) > 0 {
		hint = c.actions[0]
	}

	var out Rewind
	switch c.mode {
	case Replay:
		replayed, err := l.ReplayLast(c.k)
		if err != nil {
			return Rewind{}, fmt.Errorf("backtrack replay: %w", err)
		}
		out.Replayed = replayed
	case Truncate:
		if err := l.TruncateLast(c.k); err != nil {
			return Rewind{}, fmt.Errorf("backtrack truncate: %w", err)
		}
	}
	out.Hint = hint
	c.Reset()
	return out, nil
}

// #endregion rewind
