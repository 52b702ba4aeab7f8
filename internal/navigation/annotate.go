package navigation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/logging"
	"github.com/anonymous-cityseeker/CitySeeker/internal/metrics"
	"github.com/anonymous-cityseeker/CitySeeker/internal/oracle"
)

// Graph annotations and provenance rows are best effort: failures are
// logged and counted but never end an episode.

// move is the forward step taken from a decision node.
type move struct {
	to        string
	action    int
	direction string
	score     float64
}

// #region node
// annotateDecision writes what was decided at id this round, together with
// the step that arrived there and, unless the agent stopped, the step that
// left.
func (e *Engine) annotateDecision(ctx context.Context, ep *Episode, logger *zap.Logger, id string, dec oracle.Decision, mv *move) {
	attrs := graph.Attributes{
		"round":        ep.Task.Round,
		"step":         ep.counter,
		"thought":      dec.Thought,
		"observations": dec.Observation,
		"score":        dec.Score,
	}
	// Nil clears what an earlier visit this round left behind.
	attrs["perspective_observation"] = nil
	if len(dec.PerspectiveObservation) > 0 {
		attrs["perspective_observation"] = dec.PerspectiveObservation
	}
	attrs["last_step_filename"] = nil
	attrs["last_step_action"] = nil
	attrs["last_step_direction"] = nil
	attrs["last_step_score"] = nil
	if ep.last.action >= 0 {
		attrs["last_step_filename"] = ep.last.filename
		attrs["last_step_action"] = ep.last.action
		attrs["last_step_direction"] = ep.last.direction
		attrs["last_step_score"] = ep.last.score
	}
	attrs["pred_action"] = nil
	attrs["action_direction"] = nil
	attrs["next_step_filename"] = nil
	attrs["next_step_action"] = nil
	attrs["next_step_direction"] = nil
	attrs["next_step_score"] = nil
	if mv != nil {
		attrs["pred_action"] = mv.action
		attrs["action_direction"] = mv.direction
		attrs["next_step_filename"] = mv.to
		attrs["next_step_action"] = mv.action
		attrs["next_step_direction"] = mv.direction
		attrs["next_step_score"] = mv.score
	}
	e.writeNode(ctx, logger, id, attrs)
}

func (e *Engine) writeNode(ctx context.Context, logger *zap.Logger, id string, attrs graph.Attributes) {
	if err := e.store.WriteNodeAttributes(ctx, id, attrs); err != nil {
		metrics.GraphWriteErrors.Inc()
		logger.Warn("node annotation failed (non-fatal)", zap.String("viewpoint", id), zap.Error(err))
	}
}

func (e *Engine) markVisited(ctx context.Context, logger *zap.Logger, ids []string, status graph.VisitStatus) {
	if err := e.store.MarkVisited(ctx, ids, status); err != nil {
		metrics.GraphWriteErrors.Inc()
		logger.Warn("visited update failed (non-fatal)",
			zap.Strings("viewpoints", ids), zap.Stringer("status", status), zap.Error(err))
	}
}

// #endregion node

// #region visited
// enter marks ids as stood on by ep and claims the ones new to it, so no
// other episode hands them over to history while ep is still walking.
func (e *Engine) enter(ctx context.Context, logger *zap.Logger, ep *Episode, ids ...string) {
	e.handoff.Lock()
	defer e.handoff.Unlock()
	for _, id := range ids {
		if ep.stoodOn(id) {
			e.occupied[id]++
		}
	}
	e.markVisited(ctx, logger, ids, graph.CurrentVisited)
}

// handOver writes the round result on ep's nodes and moves the ones no
// other live episode has stood on to history.
func (e *Engine) handOver(ctx context.Context, logger *zap.Logger, ep *Episode) {
	e.handoff.Lock()
	defer e.handoff.Unlock()
	key := fmt.Sprintf("round_%d_success", ep.Task.Round)
	for _, id := range ep.visited {
		e.writeNode(ctx, logger, id, graph.Attributes{key: ep.flag})
	}
	free := e.release(ep)
	e.markVisited(ctx, logger, free, graph.HistoryVisited)
	if held := len(ep.visited) - len(free); held > 0 {
		logger.Debug("nodes left to live episodes", zap.Int("nodes", held))
	}
}

// leave drops ep's claims without touching the graph.
func (e *Engine) leave(ep *Episode) {
	e.handoff.Lock()
	defer e.handoff.Unlock()
	e.release(ep)
}

// release must be called with handoff held.
func (e *Engine) release(ep *Episode) []string {
	var free []string
	for _, id := range ep.visited {
		e.occupied[id]--
		if e.occupied[id] <= 0 {
			delete(e.occupied, id)
			free = append(free, id)
		}
	}
	return free
}

// resetEpoch clears the per-round annotations once no episode is walking.
func (e *Engine) resetEpoch(ctx context.Context, round int) {
	e.live.Lock()
	defer e.live.Unlock()
	if err := e.store.ResetAnnotations(ctx); err != nil {
		metrics.GraphWriteErrors.Inc()
		e.logger.Warn("annotation reset failed (non-fatal)", zap.Int("round", round), zap.Error(err))
		return
	}
	e.logger.Debug("annotations reset", zap.Int("round", round))
}

// #endregion visited

// #region edge
func (e *Engine) writeEdge(ctx context.Context, logger *zap.Logger, source, target string, attrs graph.Attributes) {
	if err := e.store.WriteEdgeAttributes(ctx, source, target, attrs); err != nil {
		metrics.GraphWriteErrors.Inc()
		logger.Warn("edge annotation failed (non-fatal)",
			zap.String("source", source), zap.String("target", target), zap.Error(err))
	}
}

// #endregion edge

// #region provenance
func (e *Engine) logStep(ctx context.Context, ep *Episode, logger *zap.Logger, entry logging.StepEntry) {
	if e.provenance == nil {
		return
	}
	entry.EpisodeID = ep.ID
	entry.Step = ep.counter
	if err := logging.LogStep(ctx, e.provenance, entry); err != nil {
		logger.Warn("provenance write failed (non-fatal)", zap.Int("step", ep.counter), zap.Error(err))
	}
}

// #endregion provenance
