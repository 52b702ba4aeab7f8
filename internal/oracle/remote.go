package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

// decideMethod is the full gRPC method name of the remote oracle service.
// Both messages are google.protobuf.Struct.
const decideMethod = "/citynav.oracle.v1.Oracle/Decide"

// #region wire
type wireRequest struct {
	Question           string          `json:"question"`
	ViewPoint          wireViewPoint   `json:"viewpoint"`
	Previous           *graph.Position `json:"previous,omitempty"`
	Current            graph.Position  `json:"current"`
	LastForwardAzimuth *float64        `json:"last_forward_azimuth,omitempty"`
	Directions         []string        `json:"directions"`
	Backtracked        bool            `json:"backtracked"`
	BacktrackHint      *int            `json:"backtrack_hint,omitempty"`
	Retrieved          []wireNode      `json:"retrieved,omitempty"`
	History            []wireNode      `json:"history,omitempty"`
	Round              int             `json:"round"`
	Step               int             `json:"step"`
}

type wireViewPoint struct {
	graph.Position
	Heading          float64   `json:"heading"`
	WalkableHeadings []float64 `json:"walkable_headings"`
}

type wireNode struct {
	graph.Position
	Visited string           `json:"visited"`
	Attrs   graph.Attributes `json:"attrs,omitempty"`
}

type wireDecision struct {
	Stop                   bool              `json:"stop"`
	Action                 any               `json:"action"`
	Score                  float64           `json:"score"`
	Thought                string            `json:"thoughts,omitempty"`
	Observation            string            `json:"observation,omitempty"`
	PerspectiveObservation map[string]string `json:"perspective_observation,omitempty"`
}

func toWireRequest(req Request) wireRequest {
	return wireRequest{
		Question: req.Question,
		ViewPoint: wireViewPoint{
			Position:         req.ViewPoint.Position,
			Heading:          req.ViewPoint.Heading,
			WalkableHeadings: req.ViewPoint.WalkableHeadings,
		},
		Previous:           req.Previous,
		Current:            req.Current,
		LastForwardAzimuth: req.LastForwardAzimuth,
		Directions:         req.Directions(),
		Backtracked:        req.Backtracked,
		BacktrackHint:      req.BacktrackHint,
		Retrieved:          toWireNodes(req.Retrieved),
		History:            toWireNodes(req.History),
		Round:              req.Round,
		Step:               req.Step,
	}
}

func (w wireRequest) request() Request {
	return Request{
		Question: w.Question,
		ViewPoint: graph.ViewPoint{
			Position:         w.ViewPoint.Position,
			Heading:          w.ViewPoint.Heading,
			WalkableHeadings: w.ViewPoint.WalkableHeadings,
		},
		Previous:           w.Previous,
		Current:            w.Current,
		LastForwardAzimuth: w.LastForwardAzimuth,
		Backtracked:        w.Backtracked,
		BacktrackHint:      w.BacktrackHint,
		Retrieved:          fromWireNodes(w.Retrieved),
		History:            fromWireNodes(w.History),
		Round:              w.Round,
		Step:               w.Step,
	}
}

func toWireNodes(nodes []graph.NodeContext) []wireNode {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]wireNode, len(nodes))
	for i, n := range nodes {
		out[i] = wireNode{Position: n.Position, Visited: n.Visited.String(), Attrs: n.Attrs}
	}
	return out
}

func fromWireNodes(nodes []wireNode) []graph.NodeContext {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]graph.NodeContext, len(nodes))
	for i, n := range nodes {
		out[i] = graph.NodeContext{Position: n.Position, Visited: parseVisited(n.Visited), Attrs: n.Attrs}
	}
	return out
}

func parseVisited(s string) graph.VisitStatus {
	for _, v := range []graph.VisitStatus{graph.CurrentVisited, graph.HistoryVisited} {
		if v.String() == s {
			return v
		}
	}
	return graph.Unvisited
}

// toStruct converts any JSON-encodable value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes a protobuf Struct into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// #endregion wire

// #region client
// Remote forwards decisions to an out-of-process oracle over gRPC.
type Remote struct {
	conn   *grpc.ClientConn
	cc     grpc.ClientConnInterface
	logger *zap.Logger
}

// NewRemote connects to the oracle service at addr.
func NewRemote(addr string, logger *zap.Logger) (*Remote, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	r := NewRemoteWithConn(conn, logger)
	r.conn = conn
	return r, nil
}

// NewRemoteWithConn builds a Remote on an existing connection.
func NewRemoteWithConn(cc grpc.ClientConnInterface, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{cc: cc, logger: logger.Named("remote")}
}

// Close shuts down the connection if NewRemote opened it.
func (r *Remote) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *Remote) Decide(ctx context.Context, req Request) (Decision, error) {
	n := len(req.ViewPoint.WalkableHeadings)
	if n == 0 {
		return Decision{}, fmt.Errorf("viewpoint %s has no walkable headings", req.ViewPoint.Filename)
	}

	in, err := toStruct(toWireRequest(req))
	if err != nil {
		return Decision{}, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := r.cc.Invoke(ctx, decideMethod, in, out); err != nil {
		return Decision{}, fmt.Errorf("decide rpc: %w", err)
	}

	var w wireDecision
	if err := fromStruct(out, &w); err != nil {
		return Decision{}, formatErrorf("response: %v", err)
	}
	if w.Stop {
		return Decision{Stop: true, Score: clampScore(w.Score), Thought: w.Thought, Observation: w.Observation}, nil
	}

	// Observations are optional over the wire; when present they must
	// cover every perspective.
	if w.PerspectiveObservation != nil {
		d, err := ValidateChoice(RawChoice{
			Action:      scalarString(w.Action),
			Score:       w.Score,
			Thought:     w.Thought,
			Observation: w.PerspectiveObservation,
		}, n, r.logger)
		if err != nil {
			return Decision{}, err
		}
		d.Observation = w.Observation
		return d, nil
	}
	idx, err := validateAction(scalarString(w.Action), n, r.logger)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Action: idx, Score: clampScore(w.Score), Thought: w.Thought, Observation: w.Observation}, nil
}

// #endregion client
