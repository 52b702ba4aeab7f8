package logging

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE provenance_log (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		episode_id       TEXT NOT NULL,
		step             INTEGER NOT NULL,
		viewpoint        TEXT NOT NULL,
		decision         TEXT NOT NULL,
		action           INTEGER,
		action_direction TEXT,
		score            REAL,
		attempts         INTEGER,
		fallback         INTEGER NOT NULL DEFAULT 0,
		reason           TEXT,
		created_at       TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-step-tests
func TestLogStep_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := StepEntry{
		EpisodeID:       "ep1",
		Step:            3,
		ViewPoint:       "b.jpg",
		Decision:        DecisionMove,
		Action:          1,
		ActionDirection: "LEFT",
		Score:           0.8,
		Attempts:        2,
		Reason:          "shops to the east",
		CreatedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := LogStep(context.Background(), db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM provenance_log").Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	steps, err := ReadSteps(context.Background(), db, "ep1")
	if err != nil {
		t.Fatalf("read steps: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	got := steps[0]
	if !got.CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("created_at: got %v, want %v", got.CreatedAt, entry.CreatedAt)
	}
	got.CreatedAt = entry.CreatedAt
	if got != entry {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, entry)
	}
}

func TestLogStep_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	err := LogStep(context.Background(), db, StepEntry{EpisodeID: "ep2", Step: 1, ViewPoint: "a.jpg", Decision: DecisionStop})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	db.QueryRow("SELECT created_at FROM provenance_log").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogStep_EmptyOptionalFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	err := LogStep(context.Background(), db, StepEntry{
		EpisodeID: "ep3",
		Step:      1,
		ViewPoint: "a.jpg",
		Decision:  DecisionAbort,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var direction, reason sql.NullString
	db.QueryRow("SELECT action_direction, reason FROM provenance_log").Scan(&direction, &reason)
	if direction.Valid {
		t.Error("expected NULL action_direction for empty string")
	}
	if reason.Valid {
		t.Error("expected NULL reason for empty string")
	}
}

func TestReadSteps_OrderAndFilter(t *testing.T) {
	db := setupDB(t)
	defer db.Close()
	ctx := context.Background()

	for i, ep := range []string{"ep4", "other", "ep4", "ep4"} {
		if err := LogStep(ctx, db, StepEntry{EpisodeID: ep, Step: i + 1, ViewPoint: "x.jpg", Decision: DecisionMove, Fallback: i == 3}); err != nil {
			t.Fatalf("log step %d: %v", i, err)
		}
	}
	steps, err := ReadSteps(ctx, db, "ep4")
	if err != nil {
		t.Fatalf("read steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[0].Step != 1 || steps[1].Step != 3 || steps[2].Step != 4 {
		t.Errorf("unexpected step order: %d %d %d", steps[0].Step, steps[1].Step, steps[2].Step)
	}
	if !steps[2].Fallback {
		t.Error("expected fallback flag on last step")
	}
}

func TestLogStep_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	err := LogStep(context.Background(), db, StepEntry{EpisodeID: "ep5", ViewPoint: "a.jpg", Decision: DecisionMove})
	if err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-step-tests

// #region null-if-empty-tests
func TestNullIfEmpty_Empty(t *testing.T) {
	result := nullIfEmpty("")
	if result != nil {
		t.Errorf("expected nil for empty string, got %v", result)
	}
}

func TestNullIfEmpty_NonEmpty(t *testing.T) {
	result := nullIfEmpty("hello")
	if result != "hello" {
		t.Errorf("expected 'hello', got %v", result)
	}
}

// #endregion null-if-empty-tests

// #region logger-tests
func TestNewLogger_Levels(t *testing.T) {
	logger, err := NewLogger("debug", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}

	if _, err := NewLogger("loud", ""); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := t.TempDir() + "/citynav.log"
	logger, err := NewLogger("info", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
}

// #endregion logger-tests
