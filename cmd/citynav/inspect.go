package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/anonymous-cityseeker/CitySeeker/internal/episodes"
	"github.com/anonymous-cityseeker/CitySeeker/internal/eval"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/logging"
)

var inspectFlags struct {
	run     string
	episode string
	logFile string
	last    int
	runs    bool
	jsonOut bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarise recorded episodes",
	Long: `Lists episodes with an aggregate summary, or shows one episode step by
step with the decision provenance behind each step.

Episodes come from the database (optionally one run) or from an episode log
file given with --log.`,
	RunE: inspect,
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectFlags.run, "run", "", "only episodes of this run")
	f.StringVar(&inspectFlags.episode, "episode", "", "show a single episode in detail")
	f.StringVar(&inspectFlags.logFile, "log", "", "read an episode log file instead of the database")
	f.IntVar(&inspectFlags.last, "last", 20, "list the N most recent episodes (0 = all)")
	f.BoolVar(&inspectFlags.runs, "runs", false, "list runs")
	f.BoolVar(&inspectFlags.jsonOut, "json", false, "output as JSON instead of table")
}

// #region main
func inspect(cmd *cobra.Command, args []string) error {
	if inspectFlags.logFile != "" {
		results, err := ledger.ReadJSONFile(inspectFlags.logFile)
		if err != nil {
			return err
		}
		return runListMode(results, inspectFlags.jsonOut)
	}

	store, err := episodes.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	switch {
	case inspectFlags.runs:
		return runRunsMode(cmd, store, inspectFlags.jsonOut)
	case inspectFlags.episode != "":
		return runDetailMode(cmd, store, inspectFlags.episode, inspectFlags.jsonOut)
	default:
		results, err := store.List(cmd.Context(), inspectFlags.run, inspectFlags.last)
		if err != nil {
			return err
		}
		return runListMode(results, inspectFlags.jsonOut)
	}
}

// #endregion main

// #region list-mode
type listOutput struct {
	Summary  eval.Summary `json:"summary"`
	Episodes []listRow    `json:"episodes"`
}

type listRow struct {
	EpisodeID    string  `json:"episode_id"`
	Idx          int     `json:"idx"`
	Round        int     `json:"round"`
	Outcome      string  `json:"outcome"`
	Flag         bool    `json:"flag"`
	RoundSuccess bool    `json:"round_success"`
	Steps        int     `json:"steps"`
	Distance     float64 `json:"distance"`
	Backtracks   int     `json:"backtracks"`
	Cost         float64 `json:"cost"`
}

func runListMode(results []ledger.EpisodeResult, jsonOut bool) error {
	out := listOutput{Summary: eval.Summarize(results)}
	for _, r := range results {
		out.Episodes = append(out.Episodes, listRow{
			EpisodeID:    r.EpisodeID,
			Idx:          r.Idx,
			Round:        r.Round,
			Outcome:      r.Outcome,
			Flag:         r.Flag,
			RoundSuccess: r.RoundSuccess,
			Steps:        r.TotalSteps,
			Distance:     r.TotalWeight,
			Backtracks:   r.Backtracks,
			Cost:         r.Cost,
		})
	}
	if jsonOut {
		return printJSON(out)
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "no episodes found")
		return nil
	}

	fmt.Printf("%-8s  %5s  %5s  %-9s  %-4s  %-7s  %5s  %9s  %4s  %7s\n",
		"Episode", "Idx", "Round", "Outcome", "Stop", "Success", "Steps", "Distance", "BT", "Cost")
	fmt.Printf("%-8s+-%5s+-%5s+-%-9s+-%-4s+-%-7s+-%5s+-%9s+-%4s+-%7s\n",
		"--------", "-----", "-----", "---------", "----", "-------", "-----", "---------", "----", "-------")
	for _, r := range out.Episodes {
		fmt.Printf("%-8s  %5d  %5d  %-9s  %-4s  %-7s  %5d  %9.1f  %4d  %7.2f\n",
			shortID(r.EpisodeID), r.Idx, r.Round, r.Outcome, yesNo(r.Flag), yesNo(r.RoundSuccess),
			r.Steps, r.Distance, r.Backtracks, r.Cost)
	}
	printSummary(out.Summary)
	return nil
}

func printSummary(s eval.Summary) {
	fmt.Printf("\nSummary (%d episodes):\n", s.Episodes)
	fmt.Printf("  Success rate:        %.1f%%\n", 100*s.SuccessRate)
	fmt.Printf("  Round success rate:  %.1f%%\n", 100*s.RoundSuccessRate)
	fmt.Printf("  Mean steps:          %.1f\n", s.MeanSteps)
	fmt.Printf("  Mean distance:       %.1f m\n", s.MeanDistance)
	fmt.Printf("  Mean cost:           %.2f s\n", s.MeanCost)
	fmt.Printf("  Backtracks:          %d\n", s.Backtracks)

	outcomes := make([]string, 0, len(s.Outcomes))
	for o := range s.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	fmt.Printf("\nOutcomes:\n")
	for _, o := range outcomes {
		fmt.Printf("  %-10s %d\n", o, s.Outcomes[o])
	}
	if len(s.Rounds) > 1 {
		fmt.Printf("\nBy round:\n")
		for _, r := range s.Rounds {
			fmt.Printf("  round %-3d %.1f%% of %d\n", r.Round, 100*r.RoundSuccessRate, r.Episodes)
		}
	}
}

// #endregion list-mode

// #region runs-mode
func runRunsMode(cmd *cobra.Command, store *episodes.Store, jsonOut bool) error {
	runs, err := store.Runs(cmd.Context(), inspectFlags.last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}
	fmt.Printf("%-36s  %8s  %s\n", "Run", "Episodes", "Started")
	for _, r := range runs {
		fmt.Printf("%-36s  %8d  %s\n", r.RunID, r.Episodes, r.StartedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// #endregion runs-mode

// #region detail-mode
type detailOutput struct {
	Episode    ledger.EpisodeResult `json:"episode"`
	Provenance []logging.StepEntry  `json:"provenance"`
}

func runDetailMode(cmd *cobra.Command, store *episodes.Store, episodeID string, jsonOut bool) error {
	res, err := store.Get(cmd.Context(), episodeID)
	if err != nil {
		return err
	}
	steps, err := logging.ReadSteps(cmd.Context(), store.DB(), episodeID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(detailOutput{Episode: res, Provenance: steps})
	}

	fmt.Printf("Episode:   %s\n", res.EpisodeID)
	fmt.Printf("Question:  %s\n", res.Question)
	fmt.Printf("Task:      %d (question %d), round %d\n", res.Idx, res.QuestionIdx, res.Round)
	fmt.Printf("Route:     %s -> %s (goal %s)\n", res.From, res.To, res.Goal)
	fmt.Printf("Outcome:   %s  stop=%s  round_success=%s\n", res.Outcome, yesNo(res.Flag), yesNo(res.RoundSuccess))
	fmt.Printf("Walked:    %d steps, %.1f m, %d backtracks, %.2f s\n", res.TotalSteps, res.TotalWeight, res.Backtracks, res.Cost)

	fmt.Printf("\nTrajectory:\n")
	for i, s := range res.CompleteRoute {
		marker := ""
		if s.Replayed {
			marker = " (replayed)"
		}
		fmt.Printf("  %3d  %-24s  %-11s  %6.1f m  score %.2f%s\n", i+1, s.Filename, s.ActionDirection, s.Distance, s.Score, marker)
	}

	if len(steps) > 0 {
		fmt.Printf("\nDecisions:\n")
		for _, s := range steps {
			fb := ""
			if s.Fallback {
				fb = " fallback"
			}
			fmt.Printf("  step %-3d %-9s at %-24s attempts=%d%s  %s\n", s.Step, s.Decision, s.ViewPoint, s.Attempts, fb, s.Reason)
		}
	}
	return nil
}

// #endregion detail-mode

// #region output
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// #endregion output
