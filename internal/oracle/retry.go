package oracle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/compass"
	"github.com/anonymous-cityseeker/CitySeeker/internal/metrics"
)

// #region constants

const DefaultRetryBudget = 5

const fallbackThought = "Unable to parse result from response, choosing default action."

// #endregion

// #region fallback

// FallbackFunc produces the decision used once the retry budget is spent.
type FallbackFunc func(req Request) Decision

// SafeDefault keeps walking the way the agent was already going: the walkable
// heading closest to the last direction of travel, or the first heading on
// the opening step. The decision carries the given confidence.
func SafeDefault(score float64) FallbackFunc {
	return func(req Request) Decision {
		action := 0
		if req.LastForwardAzimuth != nil {
			best := -1.0
			for i, h := range req.ViewPoint.WalkableHeadings {
				d := compass.AngularDistance(h, *req.LastForwardAzimuth)
				if best < 0 || d < best {
					action, best = i, d
				}
			}
		}
		return Decision{
			Action:                 action,
			Score:                  score,
			Thought:                fallbackThought,
			PerspectiveObservation: map[string]string{Letter(action): "Default observation."},
		}
	}
}

// #endregion

// #region retrying

// Retrying wraps an Oracle with a bounded retry budget and a fallback.
// Every error counts against the budget: malformed output, transport
// failures and per-attempt timeouts alike. Cancellation of the caller's
// context is returned as-is.
type Retrying struct {
	oracle   Oracle
	budget   int
	timeout  time.Duration
	fallback FallbackFunc
	logger   *zap.Logger
}

// WithRetry wraps o. A budget below 1 means one attempt; a zero timeout
// means attempts are bounded only by ctx.
func WithRetry(o Oracle, budget int, timeout time.Duration, fallback FallbackFunc, logger *zap.Logger) *Retrying {
	if budget < 1 {
		budget = 1
	}
	if fallback == nil {
		fallback = SafeDefault(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{oracle: o, budget: budget, timeout: timeout, fallback: fallback, logger: logger}
}

func (r *Retrying) Decide(ctx context.Context, req Request) (Decision, error) {
	var lastErr error
	for attempt := 1; attempt <= r.budget; attempt++ {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}

		d, err := r.attempt(ctx, req)
		if err == nil {
			metrics.OracleAttempts.WithLabelValues("ok").Inc()
			d.Attempts = attempt
			return d, nil
		}
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}

		lastErr = err
		result := "error"
		if errors.Is(err, ErrOutputFormat) {
			result = "malformed"
		} else if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		metrics.OracleAttempts.WithLabelValues(result).Inc()
		r.logger.Warn("oracle attempt failed",
			zap.Int("attempt", attempt), zap.Int("budget", r.budget),
			zap.String("result", result), zap.Error(err))
	}

	metrics.OracleFallbacks.Inc()
	r.logger.Error("oracle retry budget exhausted, using fallback",
		zap.Int("budget", r.budget), zap.Error(lastErr))
	fb := r.fallback(req)
	fb.Attempts = r.budget
	fb.Fallback = true
	return fb, nil
}

func (r *Retrying) attempt(ctx context.Context, req Request) (Decision, error) {
	start := time.Now()
	defer func() { metrics.OracleLatency.Observe(time.Since(start).Seconds()) }()
	if r.timeout <= 0 {
		return r.oracle.Decide(ctx, req)
	}
	actx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.oracle.Decide(actx, req)
}

// #endregion
