package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/episodes"
	"github.com/anonymous-cityseeker/CitySeeker/internal/eval"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
	"github.com/anonymous-cityseeker/CitySeeker/internal/groundtruth"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
	"github.com/anonymous-cityseeker/CitySeeker/internal/navigation"
)

var runFlags struct {
	groundTruth string
	maxSteps    int
	repeat      int
	workers     int
	offset      int
	limit       int
	resetLog    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Walk every ground-truth task and record the episodes",
	Long: `Loads the ground-truth tasks, walks each one repeat times and writes one
episode record per walk to the episode log and the database.

Flags override the matching configuration values.`,
	RunE: runBatch,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.groundTruth, "ground-truth", "", "ground-truth JSON file")
	f.IntVar(&runFlags.maxSteps, "max-steps", 0, "step budget per episode")
	f.IntVar(&runFlags.repeat, "repeat", 0, "rounds per task")
	f.IntVar(&runFlags.workers, "workers", 0, "tasks walked concurrently")
	f.IntVar(&runFlags.offset, "offset", 0, "skip the first N tasks")
	f.IntVar(&runFlags.limit, "limit", 0, "walk at most N tasks (0 = all)")
	f.BoolVar(&runFlags.resetLog, "reset-log", false, "start the episode log empty")
}

// #region overrides
func applyRunFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	if f.Changed("ground-truth") {
		cfg.GroundTruth = runFlags.groundTruth
	}
	if f.Changed("max-steps") {
		cfg.Run.MaxSteps = runFlags.maxSteps
	}
	if f.Changed("repeat") {
		cfg.Run.Repeat = runFlags.repeat
	}
	if f.Changed("workers") {
		cfg.Run.Workers = runFlags.workers
	}
	if f.Changed("offset") {
		cfg.Run.Offset = runFlags.offset
	}
	if f.Changed("limit") {
		cfg.Run.Limit = runFlags.limit
	}
	if f.Changed("reset-log") {
		cfg.Run.ResetLog = runFlags.resetLog
	}
	if cfg.GroundTruth == "" {
		return errors.New("no ground truth set (ground_truth in config or --ground-truth)")
	}
	return cfg.Validate()
}

// #endregion overrides

// #region run
func runBatch(cmd *cobra.Command, args []string) error {
	if err := applyRunFlags(cmd); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := groundtruth.Load(cfg.GroundTruth)
	if err != nil {
		return err
	}
	records = groundtruth.Window(records, cfg.Run.Offset, cfg.Run.Limit)

	shutdownTracing, err := setupTracing(cfg.Tracing.File)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("trace flush failed", zap.Error(err))
		}
	}()
	defer serveMetrics(cfg.Metrics.Addr, logger)()

	store, err := episodes.NewStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	gs, err := graph.NewGraphStore(store.DB())
	if err != nil {
		return err
	}

	runID, err := store.StartRun(ctx, cfg)
	if err != nil {
		return err
	}
	sink := ledger.MultiSink{store.RunSink(runID)}
	if cfg.EpisodeLog != "" {
		jsonLog, err := ledger.NewJSONFile(cfg.EpisodeLog, cfg.Run.ResetLog)
		if err != nil {
			return err
		}
		sink = append(sink, jsonLog)
	}

	base, closeOracle, err := buildOracle(cfg.Oracle, logger)
	if err != nil {
		return err
	}
	defer closeOracle()

	criterion, err := eval.NewCriterion(cfg.Evaluation.SuccessExpr)
	if err != nil {
		return err
	}
	engine, err := navigation.NewEngine(gs, withRetry(base, cfg.Oracle, logger), navigation.OptionsFromConfig(cfg), navigation.Deps{
		Sink:       sink,
		Provenance: store.DB(),
		Criterion:  criterion,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("run started",
		zap.String("run", runID),
		zap.Int("tasks", len(records)),
		zap.Int("repeat", cfg.Run.Repeat),
		zap.Int("workers", cfg.Run.Workers),
		zap.String("oracle", cfg.Oracle.Kind))

	report, runErr := engine.RunBatch(ctx, records, cfg.Run.Repeat, cfg.Run.Workers)
	summary := eval.Summarize(report.Results)
	logger.Info("run finished",
		zap.String("run", runID),
		zap.Int("episodes", summary.Episodes),
		zap.Float64("success_rate", summary.SuccessRate),
		zap.Float64("round_success_rate", summary.RoundSuccessRate),
		zap.Int("backtracks", summary.Backtracks))

	fmt.Printf("Run %s: %d episodes, success %.1f%%, round success %.1f%%, mean %.1f steps / %.1f m\n",
		shortID(runID), summary.Episodes, 100*summary.SuccessRate, 100*summary.RoundSuccessRate,
		summary.MeanSteps, summary.MeanDistance)
	return runErr
}

// #endregion run
