// Package oracle defines the decision-maker boundary of the navigation
// engine and the decision-makers that ship with it.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/anonymous-cityseeker/CitySeeker/internal/compass"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

// StartDirection labels perspectives on the first step, when there is no
// direction of travel yet.
const StartDirection = "<START>"

// #region request
// Request is everything the decision-maker sees for one step.
type Request struct {
	Question           string
	ViewPoint          graph.ViewPoint
	Previous           *graph.Position
	Current            graph.Position
	LastForwardAzimuth *float64
	Backtracked        bool
	BacktrackHint      *int // action taken at the restore position
	Retrieved          []graph.NodeContext
	History            []graph.NodeContext
	Round              int
	Step               int
}

// Directions labels each walkable heading relative to the last direction of
// travel, or StartDirection when there is none.
func (r Request) Directions() []string {
	out := make([]string, len(r.ViewPoint.WalkableHeadings))
	for i, h := range r.ViewPoint.WalkableHeadings {
		if r.LastForwardAzimuth == nil {
			out[i] = StartDirection
			continue
		}
		out[i] = compass.RelativeDirection(*r.LastForwardAzimuth, h).String()
	}
	return out
}

// #endregion request

// #region decision
// Decision is the decision-maker's answer for one step.
type Decision struct {
	Action                 int // index into the viewpoint's walkable headings
	Stop                   bool
	Score                  float64 // confidence in [0, 1]
	Thought                string
	Observation            string
	PerspectiveObservation map[string]string

	// Filled in by the retry wrapper.
	Attempts int
	Fallback bool
}

// #endregion decision

// #region oracle
// Oracle chooses the next action.
type Oracle interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (Decision, error)

func (f Func) Decide(ctx context.Context, req Request) (Decision, error) { return f(ctx, req) }

// #endregion oracle

// #region errors
// ErrOutputFormat marks a response that could not be turned into a decision.
var ErrOutputFormat = errors.New("oracle: malformed output")

// OutputFormatError describes why a response was rejected. It is retryable.
type OutputFormatError struct {
	Reason string
}

func (e *OutputFormatError) Error() string {
	return fmt.Sprintf("malformed oracle output: %s", e.Reason)
}

func (e *OutputFormatError) Unwrap() error { return ErrOutputFormat }

func formatErrorf(format string, args ...any) error {
	return &OutputFormatError{Reason: fmt.Sprintf(format, args...)}
}

// #endregion errors
