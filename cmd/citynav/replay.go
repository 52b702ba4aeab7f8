package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/navigation"
	"github.com/anonymous-cityseeker/CitySeeker/internal/replay"
)

var replayFlags struct {
	diff bool
}

var replayCmd = &cobra.Command{
	Use:   "replay [episodes.json]",
	Short: "Re-walk recorded episodes and report divergences",
	Long: `Re-walks every episode of an episode log against the current graph, issuing
the recorded decisions in order, and compares how each walk ends.

Exits non-zero when any episode diverges or cannot be re-walked. The walks
annotate the graph like a run; use "graph reset" afterwards if needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayFlags.diff, "diff", false, "print the field diff of diverged episodes")
}

// #region main
func runReplay(cmd *cobra.Command, args []string) error {
	recorded, err := ledger.ReadJSONFile(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, gs, err := openGraph()
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := replay.Replay(ctx, gs, recorded, navigation.OptionsFromConfig(cfg), logger)
	if err != nil {
		return err
	}
	summary := replay.Summarize(results)
	logger.Info("replay finished",
		zap.String("log", args[0]),
		zap.Int("episodes", summary.Total),
		zap.Int("diverged", summary.Diverged),
		zap.Int("failed", summary.Failed))

	printComparison(results, replayFlags.diff)
	if summary.Diverged > 0 || summary.Failed > 0 {
		return errors.New("replay diverged from the recording")
	}
	return nil
}

// #endregion main

// #region output
func printComparison(results []replay.Result, showDiff bool) {
	fmt.Printf("%-8s| %-5s| %-24s| %-24s| %s\n", "Episode", "Round", "Expected", "Replayed", "Match")
	fmt.Printf("%-8s+%-6s+%-25s+%-25s+%s\n",
		"--------", "------", "-------------------------", "-------------------------", "------")

	for _, r := range results {
		exp := fmt.Sprintf("%s@%s", r.Expected.Outcome, r.Expected.End)
		got := fmt.Sprintf("%s@%s", r.Replayed.Outcome, r.Replayed.End)
		match := "OK"
		switch {
		case r.Err != nil:
			got, match = "-", "FAIL"
		case !r.Match:
			match = "DIFF"
		}
		fmt.Printf("%-8s| %5d| %-24s| %-24s| %s\n", shortID(r.EpisodeID), r.Round, exp, got, match)
		if r.Err != nil {
			fmt.Printf("          %v\n", r.Err)
		}
		if showDiff && r.Diff != "" {
			fmt.Print(r.Diff)
		}
	}

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge, %d failed\n", s.Total, s.Matches, s.Diverged, s.Failed)
}

// #endregion output
