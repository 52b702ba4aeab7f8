package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// #region log-step
// LogStep writes a provenance entry to the provenance_log table.
func LogStep(ctx context.Context, db *sql.DB, entry StepEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO provenance_log (episode_id, step, viewpoint, decision, action, action_direction, score, attempts, fallback, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EpisodeID,
		entry.Step,
		entry.ViewPoint,
		entry.Decision,
		entry.Action,
		nullIfEmpty(entry.ActionDirection),
		entry.Score,
		entry.Attempts,
		entry.Fallback,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log step: %w", err)
	}
	return nil
}

// #endregion log-step

// #region read-steps
// ReadSteps returns the provenance entries of one episode in step order.
func ReadSteps(ctx context.Context, db *sql.DB, episodeID string) ([]StepEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT episode_id, step, viewpoint, decision, COALESCE(action, 0), COALESCE(action_direction, ''),
		        COALESCE(score, 0), COALESCE(attempts, 0), fallback, COALESCE(reason, ''), created_at
		 FROM provenance_log WHERE episode_id = ? ORDER BY id`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	defer rows.Close()

	var out []StepEntry
	for rows.Next() {
		var e StepEntry
		var created string
		if err := rows.Scan(&e.EpisodeID, &e.Step, &e.ViewPoint, &e.Decision, &e.Action, &e.ActionDirection,
			&e.Score, &e.Attempts, &e.Fallback, &e.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion read-steps

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
