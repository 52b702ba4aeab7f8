// Package navigation walks ground-truth tasks through the viewpoint graph:
// ask the decision-maker, resolve the chosen heading to an edge, log the
// step, and rewind when the agent looks lost.
package navigation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/backtrack"
	"github.com/anonymous-cityseeker/CitySeeker/internal/compass"
	"github.com/anonymous-cityseeker/CitySeeker/internal/eval"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/logging"
	"github.com/anonymous-cityseeker/CitySeeker/internal/metrics"
	"github.com/anonymous-cityseeker/CitySeeker/internal/oracle"
)

var tracer = otel.Tracer("citynav/navigation")

// #region engine
// Deps are the engine's optional collaborators. Nil fields are skipped,
// except Criterion which defaults to eval.DefaultSuccessExpr.
type Deps struct {
	Sink       ledger.Sink
	Provenance *sql.DB // holds the provenance_log table
	Criterion  *eval.Criterion
	Logger     *zap.Logger
}

// Engine runs episodes. It is safe for concurrent Run calls as long as the
// store and oracle are: visited status is handed over per node once no live
// episode stands on it, and the epoch annotation reset waits until no other
// episode is walking.
type Engine struct {
	store      GraphStore
	oracle     oracle.Oracle
	opts       Options
	sink       ledger.Sink
	provenance *sql.DB
	criterion  *eval.Criterion
	logger     *zap.Logger
	newID      func() string

	// live is read-held by every walking episode and write-held by the
	// epoch reset.
	live sync.RWMutex
	// handoff guards occupied and orders visited-status writes.
	handoff  sync.Mutex
	occupied map[string]int // live episodes that stood on each node
}

// NewEngine validates opts and wires the engine.
func NewEngine(store GraphStore, o oracle.Oracle, opts Options, deps Deps) (*Engine, error) {
	if store == nil {
		return nil, errors.New("navigation: graph store is required")
	}
	if o == nil {
		return nil, errors.New("navigation: oracle is required")
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("navigation: %w", err)
	}

	e := &Engine{
		store:      store,
		oracle:     o,
		opts:       opts,
		sink:       deps.Sink,
		provenance: deps.Provenance,
		criterion:  deps.Criterion,
		logger:     deps.Logger,
		newID:      uuid.NewString,
		occupied:   map[string]int{},
	}
	if _, err := e.newController(); err != nil {
		return nil, fmt.Errorf("navigation: %w", err)
	}
	if e.criterion == nil {
		c, err := eval.NewCriterion(eval.DefaultSuccessExpr)
		if err != nil {
			return nil, err
		}
		e.criterion = c
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

func (e *Engine) newController() (*backtrack.Controller, error) {
	if !e.opts.Backtrack.Enabled {
		return nil, nil
	}
	policy, err := backtrack.NewPolicy(e.opts.Backtrack.Policy, e.opts.Backtrack.Threshold)
	if err != nil {
		return nil, err
	}
	return backtrack.NewController(policy, e.opts.Backtrack.Steps, e.opts.Backtrack.Mode)
}

// #endregion engine

// #region run
// Run walks one task to a terminal state, hands its visited nodes over to
// history and persists the result. Aborted episodes are reported through the
// result's outcome, not as an error. An error means the task was invalid,
// ctx was cancelled before the episode ended (nothing is persisted), or the
// sink rejected the result.
//
// On rounds that close a retrieval epoch the graph annotations are reset
// once no other episode is walking.
func (e *Engine) Run(ctx context.Context, task Task) (ledger.EpisodeResult, error) {
	if err := task.Record.Validate(); err != nil {
		return ledger.EpisodeResult{}, fmt.Errorf("task %d: %w", task.Record.Idx, err)
	}
	controller, err := e.newController()
	if err != nil {
		return ledger.EpisodeResult{}, err
	}

	e.live.RLock()
	res, err := e.run(ctx, task, controller)
	e.live.RUnlock()
	if err != nil {
		return res, err
	}
	if task.Round%e.opts.Retrieval.Epoch == 0 {
		e.resetEpoch(ctx, task.Round)
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, task Task, controller *backtrack.Controller) (ledger.EpisodeResult, error) {
	ep := newEpisode(e.newID(), task, controller)
	logger := e.logger.With(
		zap.String("episode", ep.ID),
		zap.Int("idx", task.Record.Idx),
		zap.Int("round", task.Round),
	)
	ctx, span := tracer.Start(ctx, "navigation.episode", trace.WithAttributes(
		attribute.String("episode.id", ep.ID),
		attribute.Int("task.idx", task.Record.Idx),
		attribute.Int("round", task.Round),
	))
	defer span.End()

	logger.Info("episode started",
		zap.String("question", task.Record.Question),
		zap.String("from", ep.Current().Filename),
		zap.String("goal", ep.Goal))

	start := time.Now()
	e.enter(ctx, logger, ep, ep.Current().Filename)
	if err := e.walk(ctx, ep, logger); err != nil {
		e.leave(ep)
		span.RecordError(err)
		span.SetStatus(codes.Error, "episode interrupted")
		logger.Warn("episode interrupted", zap.Error(err))
		return ledger.EpisodeResult{}, err
	}

	res, err := e.finish(ctx, ep, time.Since(start).Seconds(), logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finish failed")
		return res, err
	}
	span.SetAttributes(
		attribute.String("outcome", res.Outcome),
		attribute.Int("steps", res.TotalSteps),
		attribute.Float64("distance", res.TotalWeight),
	)
	return res, nil
}

func (e *Engine) walk(ctx context.Context, ep *Episode, logger *zap.Logger) error {
	for ep.counter <= e.opts.MaxSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := e.step(ctx, ep, logger)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	ep.state = Exhausted
	return nil
}

// #endregion run

// #region step
// step runs one decision. It reports done once the episode reached a
// terminal state; the error is only ever ctx's.
func (e *Engine) step(ctx context.Context, ep *Episode, logger *zap.Logger) (bool, error) {
	ctx, span := tracer.Start(ctx, "navigation.step", trace.WithAttributes(attribute.Int("step", ep.counter)))
	defer span.End()

	ep.state = AwaitingDecision
	cur := ep.ledger.Current()
	vp, err := e.store.ViewPoint(ctx, cur.Filename)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.abortStep(ctx, ep, logger, cur.Filename, fmt.Sprintf("viewpoint lookup: %v", err))
		return true, nil
	}
	cur = vp.Position
	req := oracle.Request{
		Question:           ep.Task.Record.Question,
		ViewPoint:          vp,
		Previous:           ep.previous,
		Current:            cur,
		LastForwardAzimuth: ep.lastForward,
		Backtracked:        ep.backtracked,
		BacktrackHint:      ep.hint,
		Retrieved:          e.retrieve(ctx, cur.Filename, ep.Task.Round),
		History:            e.history(ctx, ep),
		Round:              ep.Task.Round,
		Step:               ep.counter,
	}
	dec, err := e.oracle.Decide(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn("oracle failed, using safe default", zap.Int("step", ep.counter), zap.Error(err))
		metrics.OracleFallbacks.Inc()
		dec = oracle.SafeDefault(e.opts.FallbackScore)(req)
		dec.Attempts = 1
		dec.Fallback = true
	}
	ep.backtracked = false
	ep.hint = nil

	if dec.Stop {
		ep.flag = true
		ep.state = Reached
		e.annotateDecision(ctx, ep, logger, cur.Filename, dec, nil)
		e.logStep(ctx, ep, logger, logging.StepEntry{
			ViewPoint: cur.Filename,
			Decision:  logging.DecisionStop,
			Action:    -1,
			Score:     dec.Score,
			Attempts:  dec.Attempts,
			Fallback:  dec.Fallback,
			Reason:    dec.Thought,
		})
		logger.Info("stop requested", zap.Int("step", ep.counter), zap.String("at", cur.Filename))
		return true, nil
	}

	ep.state = ResolvingMove
	if len(vp.WalkableHeadings) == 0 {
		e.abortStep(ctx, ep, logger, cur.Filename, "no walkable headings at "+cur.Filename)
		return true, nil
	}
	idx := oracle.ClampAction(dec.Action, len(vp.WalkableHeadings), logger)
	heading := vp.WalkableHeadings[idx]
	next, distance, err := e.store.ClosestEdgeByAzimuth(ctx, cur.Filename, heading)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.abortStep(ctx, ep, logger, cur.Filename, fmt.Sprintf("resolve heading %.1f: %v", heading, err))
		return true, nil
	}

	forward := compass.Azimuth(cur.Longitude, cur.Latitude, next.Longitude, next.Latitude)
	direction := compass.RelativeDirection(forward, heading).String()
	if err := ep.ledger.Append(ledger.StepRecord{
		Position:               next,
		Distance:               distance,
		Observation:            dec.Observation,
		PerspectiveObservation: dec.PerspectiveObservation,
		Thought:                dec.Thought,
		Action:                 idx,
		ActionDirection:        direction,
		Score:                  dec.Score,
	}); err != nil {
		e.abortStep(ctx, ep, logger, cur.Filename, fmt.Sprintf("append step: %v", err))
		return true, nil
	}
	ep.state = Logged
	metrics.StepsTotal.Inc()

	mv := &move{to: next.Filename, action: idx, direction: direction, score: dec.Score}
	e.enter(ctx, logger, ep, cur.Filename, next.Filename)
	e.annotateDecision(ctx, ep, logger, cur.Filename, dec, mv)
	e.writeEdge(ctx, logger, cur.Filename, next.Filename, graph.Attributes{
		"round":            ep.Task.Round,
		"step":             ep.counter,
		"action":           idx,
		"action_direction": direction,
	})
	e.logStep(ctx, ep, logger, logging.StepEntry{
		ViewPoint:       cur.Filename,
		Decision:        logging.DecisionMove,
		Action:          idx,
		ActionDirection: direction,
		Score:           dec.Score,
		Attempts:        dec.Attempts,
		Fallback:        dec.Fallback,
		Reason:          dec.Thought,
	})
	logger.Debug("moved",
		zap.Int("step", ep.counter),
		zap.String("from", cur.Filename),
		zap.String("to", next.Filename),
		zap.String("direction", direction),
		zap.Float64("distance", distance),
		zap.Float64("score", dec.Score))

	ep.last = lastStep{filename: cur.Filename, action: idx, direction: direction, score: dec.Score}
	prev := cur
	ep.previous = &prev
	ep.lastForward = &forward
	ep.counter++

	if ep.controller != nil {
		if aborted := e.checkLost(ctx, ep, logger, next, dec.Score, idx); aborted {
			return true, nil
		}
	}
	return false, nil
}

// checkLost feeds the backtrack controller and rewinds when it reports the
// agent as lost. It reports whether the rewind failed and aborted the
// episode.
func (e *Engine) checkLost(ctx context.Context, ep *Episode, logger *zap.Logger, at graph.Position, score float64, action int) bool {
	policy := ep.controller.Policy()
	sample := score
	if policy.Name() == (backtrack.DistancePolicy{}).Name() {
		hops, err := e.store.ShortestPathLength(ctx, at.Filename, ep.Goal)
		switch {
		case errors.Is(err, graph.ErrNotFound):
			logger.Warn("goal unreachable, distance sample skipped",
				zap.String("from", at.Filename), zap.String("goal", ep.Goal), zap.Error(err))
			return false
		case err != nil:
			if ctx.Err() != nil {
				return false
			}
			e.abortStep(ctx, ep, logger, at.Filename, fmt.Sprintf("goal distance lookup: %v", err))
			return true
		}
		sample = float64(hops)
	}
	if !ep.controller.Observe(sample, action) {
		return false
	}

	ep.state = Backtracking
	window := ep.controller.Samples()
	from := ep.ledger.Current()
	rw, err := ep.controller.Rewind(ep.ledger)
	if err != nil {
		e.abortStep(ctx, ep, logger, from.Filename, err.Error())
		return true
	}
	restore := ep.ledger.Current()

	ep.backtracks++
	ep.backtracked = true
	if rw.Hint >= 0 {
		h := rw.Hint
		ep.hint = &h
	}
	ep.previous = &from
	if from.Filename != restore.Filename {
		back := compass.Azimuth(from.Longitude, from.Latitude, restore.Longitude, restore.Latitude)
		ep.lastForward = &back
	}
	ep.last = lastStep{action: -1}
	ep.counter += ep.controller.Steps()

	metrics.BacktracksTotal.WithLabelValues(policy.Name()).Inc()
	e.logStep(ctx, ep, logger, logging.StepEntry{
		ViewPoint: restore.Filename,
		Decision:  logging.DecisionBacktrack,
		Action:    rw.Hint,
		Score:     score,
		Reason:    fmt.Sprintf("%s policy over %v, rewound %d steps from %s", policy.Name(), window, ep.controller.Steps(), from.Filename),
	})
	logger.Info("backtracked",
		zap.String("policy", policy.Name()),
		zap.Float64s("window", window),
		zap.String("from", from.Filename),
		zap.String("to", restore.Filename),
		zap.Int("replayed", len(rw.Replayed)),
		zap.Int("counter", ep.counter))
	return false
}

func (e *Engine) abortStep(ctx context.Context, ep *Episode, logger *zap.Logger, at, reason string) {
	ep.abort(reason)
	logger.Error("episode aborted", zap.Int("step", ep.counter), zap.String("at", at), zap.String("reason", reason))
	e.logStep(ctx, ep, logger, logging.StepEntry{
		ViewPoint: at,
		Decision:  logging.DecisionAbort,
		Action:    -1,
		Reason:    reason,
	})
}

// #endregion step

// #region finish
// finish hands the episode's nodes over to history, evaluates the round and
// finalizes the ledger. The epoch reset is left to Run.
func (e *Engine) finish(ctx context.Context, ep *Episode, cost float64, logger *zap.Logger) (ledger.EpisodeResult, error) {
	round := ep.Task.Round
	final := ep.ledger.Current()

	e.handOver(ctx, logger, ep)

	hops := -1
	if n, err := e.store.ShortestPathLength(ctx, final.Filename, ep.Goal); err == nil {
		hops = n
	}
	atGoal := final.Filename == ep.Goal
	success, err := e.criterion.Success(eval.Env{
		AtGoal:     atGoal,
		Flag:       ep.flag,
		Steps:      ep.ledger.Len(),
		Distance:   ep.ledger.TotalDistance(),
		Backtracks: ep.backtracks,
		GoalHops:   hops,
		Outcome:    ep.state.String(),
		Round:      round,
	})
	if err != nil {
		logger.Warn("success criterion failed, using at_goal", zap.String("expr", e.criterion.String()), zap.Error(err))
		success = atGoal
	}

	rec := ep.Task.Record
	from := rec.From
	if from == "" {
		from = ep.ledger.Origin().Filename
	}
	res, err := ep.ledger.Finalize(ledger.EpisodeMeta{
		EpisodeID:    ep.ID,
		Question:     rec.Question,
		QuestionIdx:  rec.QuestionIdx,
		Idx:          rec.Idx,
		From:         from,
		Goal:         ep.Goal,
		Service:      rec.Service,
		Round:        round,
		Flag:         ep.flag,
		RoundSuccess: success,
		Outcome:      ep.state.String(),
		Backtracks:   ep.backtracks,
		Cost:         cost,
	})
	if err != nil {
		return ledger.EpisodeResult{}, fmt.Errorf("finalize episode %s: %w", ep.ID, err)
	}

	metrics.EpisodesTotal.WithLabelValues(res.Outcome).Inc()
	metrics.EpisodeDistance.Observe(res.TotalWeight)
	metrics.EpisodeDuration.Observe(cost)
	logger.Info("episode finished",
		zap.String("outcome", res.Outcome),
		zap.Bool("flag", res.Flag),
		zap.Bool("round_success", res.RoundSuccess),
		zap.Int("steps", res.TotalSteps),
		zap.Float64("distance", res.TotalWeight),
		zap.Int("backtracks", res.Backtracks),
		zap.String("reason", ep.reason))

	if e.sink != nil {
		if err := e.sink.Write(ctx, res); err != nil {
			return res, fmt.Errorf("write episode %s: %w", ep.ID, err)
		}
	}
	return res, nil
}

// #endregion finish
