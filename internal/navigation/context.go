package navigation

import (
	"context"

	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

// #region retrieval
// retrieve returns the annotated neighbours of id: nodes earlier episodes
// stood on, nearest first. Lookup failures only cost the context.
func (e *Engine) retrieve(ctx context.Context, id string, round int) []graph.NodeContext {
	opts := e.opts.Retrieval
	if !opts.Enabled || round%opts.Epoch != 0 {
		return nil
	}
	nodes, err := e.store.Neighborhood(ctx, id, opts.Mode, opts.Radius)
	if err != nil {
		e.logger.Warn("retrieval context unavailable (non-fatal)", zap.String("viewpoint", id), zap.Error(err))
		return nil
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.Visited != graph.Unvisited || len(n.Attrs) > 0 {
			out = append(out, n)
		}
	}
	return out
}

// #endregion retrieval

// #region history
// history returns the last few positions of this episode with their
// annotations, oldest first. It stays empty until the episode has walked
// more than the configured number of steps.
func (e *Engine) history(ctx context.Context, ep *Episode) []graph.NodeContext {
	opts := e.opts.History
	if !opts.Enabled || ep.counter <= opts.Steps {
		return nil
	}
	recent := ep.ledger.Last(opts.Steps)
	ids := make([]string, len(recent))
	for i, p := range recent {
		ids[i] = p.Filename
	}
	nodes, err := e.store.Nodes(ctx, ids)
	if err != nil {
		e.logger.Warn("history context unavailable (non-fatal)", zap.Int("steps", len(ids)), zap.Error(err))
		return nil
	}
	return nodes
}

// #endregion history
