package eval

// DefaultSuccessExpr counts a round as successful when the agent ends on the
// goal viewpoint.
const DefaultSuccessExpr = "at_goal"

// #region env
// Env is what a success expression can refer to.
type Env struct {
	AtGoal     bool    `expr:"at_goal"`
	Flag       bool    `expr:"flag"` // the decision-maker asked to stop
	Steps      int     `expr:"steps"`
	Distance   float64 `expr:"distance"`
	Backtracks int     `expr:"backtracks"`
	GoalHops   int     `expr:"goal_hops"` // -1 when the goal is unreachable
	Outcome    string  `expr:"outcome"`
	Round      int     `expr:"round"`
}

// #endregion env

// #region summary
// Summary aggregates a set of episode results.
type Summary struct {
	Episodes         int            `json:"episodes"`
	Stopped          int            `json:"stopped"`
	RoundSuccesses   int            `json:"round_successes"`
	SuccessRate      float64        `json:"success_rate"`
	RoundSuccessRate float64        `json:"round_success_rate"`
	MeanSteps        float64        `json:"mean_steps"`
	MeanDistance     float64        `json:"mean_distance"`
	MeanCost         float64        `json:"mean_cost"`
	Backtracks       int            `json:"backtracks"`
	Outcomes         map[string]int `json:"outcomes"`
	Rounds           []RoundSummary `json:"rounds,omitempty"`
}

// RoundSummary is the success rate of one round index across questions.
type RoundSummary struct {
	Round            int     `json:"round"`
	Episodes         int     `json:"episodes"`
	RoundSuccessRate float64 `json:"round_success_rate"`
}

// #endregion summary
