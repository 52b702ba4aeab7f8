package graph

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a viewpoint, edge or path does not exist.
var ErrNotFound = errors.New("graph: not found")

// #region position
// Position is a geo-referenced viewpoint. Filename is the stable identifier.
type Position struct {
	Filename  string  `json:"filename"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// ViewPoint is a Position plus the panorama's capture heading and the
// headings along which an outgoing edge exists.
type ViewPoint struct {
	Position
	Heading          float64
	WalkableHeadings []float64
}

// #endregion position

// #region edge
// Edge is a directed walkable link between two viewpoints.
type Edge struct {
	Source   string
	Target   string
	Azimuth  float64 // degrees clockwise from north
	Distance float64 // metres
	Attrs    Attributes
}

// Attributes are free-form annotations merged onto nodes and edges.
type Attributes map[string]any

// #endregion edge

// #region visit-status
// VisitStatus tracks whether a viewpoint was stood on, and when.
type VisitStatus int

const (
	Unvisited VisitStatus = iota
	CurrentVisited
	HistoryVisited
)

func (s VisitStatus) String() string {
	switch s {
	case Unvisited:
		return "UNVISITED"
	case CurrentVisited:
		return "CURRENT_VISITED"
	case HistoryVisited:
		return "HISTORY_VISITED"
	default:
		return fmt.Sprintf("VisitStatus(%d)", int(s))
	}
}

// #endregion visit-status

// #region neighborhood
// NeighborhoodMode selects how Neighborhood measures proximity.
type NeighborhoodMode string

const (
	// Topology counts hops along edges in either direction.
	Topology NeighborhoodMode = "topology"
	// Spatial uses geodesic distance in metres.
	Spatial NeighborhoodMode = "spatial"
)

// NodeContext is a viewpoint with its current annotations, as handed to the
// decision-maker for retrieval and history context.
type NodeContext struct {
	Position
	Visited VisitStatus `json:"visited"`
	Attrs   Attributes  `json:"attrs,omitempty"`
}

// #endregion neighborhood
