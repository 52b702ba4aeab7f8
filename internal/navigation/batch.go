package navigation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anonymous-cityseeker/CitySeeker/internal/groundtruth"
	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

// #region batch
// BatchReport is what a batch produced.
type BatchReport struct {
	Results []ledger.EpisodeResult // record order, rounds ascending
	Skipped int                    // records that could not seed an episode
}

// RunBatch walks every record repeat times. Rounds of the same record run in
// order on one worker, since later rounds read the annotations earlier ones
// left; distinct records run on up to workers goroutines. Episodes sharing a
// viewpoint hand it to history only once the last of them is done, and an
// epoch's annotation reset waits for every running episode. The first
// cancellation or sink failure stops the batch.
func (e *Engine) RunBatch(ctx context.Context, records []groundtruth.Record, repeat, workers int) (BatchReport, error) {
	if repeat < 1 {
		repeat = 1
	}
	if workers < 1 {
		workers = 1
	}

	perRecord := make([][]ledger.EpisodeResult, len(records))
	skipped := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			e.logger.Warn("skipping invalid record", zap.Int("idx", rec.Idx), zap.Error(err))
			skipped[i] = true
			continue
		}
		g.Go(func() error {
			for round := 1; round <= repeat; round++ {
				res, err := e.Run(gctx, Task{Record: rec, Round: round})
				if err != nil {
					return fmt.Errorf("record %d round %d: %w", rec.Idx, round, err)
				}
				perRecord[i] = append(perRecord[i], res)
			}
			return nil
		})
	}
	err := g.Wait()

	var report BatchReport
	for i, results := range perRecord {
		if skipped[i] {
			report.Skipped++
		}
		report.Results = append(report.Results, results...)
	}
	e.logger.Info("batch finished",
		zap.Int("records", len(records)),
		zap.Int("episodes", len(report.Results)),
		zap.Int("skipped", report.Skipped),
		zap.Error(err))
	return report, err
}

// #endregion batch
