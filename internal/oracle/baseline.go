package oracle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

// BaselineScore is the fixed confidence reported by the baselines.
const BaselineScore = 0.5

// #region straight
// Straight always takes the first walkable heading and never stops.
type Straight struct{}

func (Straight) Decide(_ context.Context, req Request) (Decision, error) {
	if len(req.ViewPoint.WalkableHeadings) == 0 {
		return Decision{}, fmt.Errorf("viewpoint %s has no walkable headings", req.ViewPoint.Filename)
	}
	return Decision{Action: 0, Score: BaselineScore}, nil
}

// #endregion straight

// #region random
// Random picks a walkable heading uniformly and never stops. Safe for
// concurrent use.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom seeds the generator; equal seeds give equal walks.
func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *Random) Decide(_ context.Context, req Request) (Decision, error) {
	n := len(req.ViewPoint.WalkableHeadings)
	if n == 0 {
		return Decision{}, fmt.Errorf("viewpoint %s has no walkable headings", req.ViewPoint.Filename)
	}
	r.mu.Lock()
	action := r.rng.IntN(n)
	r.mu.Unlock()
	return Decision{Action: action, Score: BaselineScore}, nil
}

// #endregion random
