// Package episodes persists runs, finished episodes and per-step decision
// provenance in SQLite.
package episodes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/anonymous-cityseeker/CitySeeker/internal/ledger"
)

// ErrNotFound is returned when an episode or run does not exist.
var ErrNotFound = errors.New("episodes: not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	config_json  TEXT,
	started_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS episodes (
	episode_id    TEXT PRIMARY KEY,
	run_id        TEXT,
	question      TEXT NOT NULL,
	question_idx  INTEGER NOT NULL,
	idx           INTEGER NOT NULL,
	round         INTEGER NOT NULL,
	outcome       TEXT NOT NULL,
	flag          INTEGER NOT NULL,
	round_success INTEGER NOT NULL,
	total_steps   INTEGER NOT NULL,
	total_weight  REAL NOT NULL,
	backtracks    INTEGER NOT NULL,
	cost          REAL NOT NULL,
	result_json   TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
CREATE INDEX IF NOT EXISTS idx_episodes_run ON episodes(run_id);

CREATE TABLE IF NOT EXISTS provenance_log (
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
);
CREATE INDEX IF NOT EXISTS idx_provenance_episode ON provenance_log(episode_id);
`

// #endregion schema

// #region store-struct
// Store manages runs and episode results in SQLite.
type Store struct {
	db *sql.DB
}

// Run is one invocation of the batch runner.
type Run struct {
	RunID     string
	Config    string
	StartedAt time.Time
	Episodes  int
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas are per connection; a single connection keeps them in force
	// and serialises concurrent episode writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (graph store,
// provenance logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region runs
// StartRun records a new run and returns its id.
func (s *Store) StartRun(ctx context.Context, config any) (string, error) {
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshal run config: %w", err)
	}
	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, config_json, started_at) VALUES (?, ?, ?)`,
		id, string(cfgJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// Runs lists runs newest first, with their episode counts.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.run_id, COALESCE(r.config_json, ''), r.started_at, COUNT(e.episode_id)
		 FROM runs r LEFT JOIN episodes e ON e.run_id = r.run_id
		 GROUP BY r.run_id
		 ORDER BY r.started_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.RunID, &r.Config, &started, &r.Episodes); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion runs

// #region write
// Write stores an episode that belongs to no run. It satisfies ledger.Sink.
func (s *Store) Write(ctx context.Context, res ledger.EpisodeResult) error {
	return s.write(ctx, "", res)
}

// RunSink returns a ledger.Sink that files episodes under runID.
func (s *Store) RunSink(runID string) ledger.Sink {
	return runSink{store: s, runID: runID}
}

type runSink struct {
	store *Store
	runID string
}

func (r runSink) Write(ctx context.Context, res ledger.EpisodeResult) error {
	return r.store.write(ctx, r.runID, res)
}

func (s *Store) write(ctx context.Context, runID string, res ledger.EpisodeResult) error {
	if res.EpisodeID == "" {
		return errors.New("write episode: missing episode id")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal episode %s: %w", res.EpisodeID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodes (episode_id, run_id, question, question_idx, idx, round, outcome, flag,
		   round_success, total_steps, total_weight, backtracks, cost, result_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.EpisodeID, nullIfEmpty(runID), res.Question, res.QuestionIdx, res.Idx, res.Round, res.Outcome,
		res.Flag, res.RoundSuccess, res.TotalSteps, res.TotalWeight, res.Backtracks, res.Cost,
		string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert episode %s: %w", res.EpisodeID, err)
	}
	return nil
}

// #endregion write

// #region read
// Get returns one episode by id.
func (s *Store) Get(ctx context.Context, episodeID string) (ledger.EpisodeResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT result_json FROM episodes WHERE episode_id = ?`, episodeID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.EpisodeResult{}, fmt.Errorf("episode %s: %w", episodeID, ErrNotFound)
	}
	if err != nil {
		return ledger.EpisodeResult{}, fmt.Errorf("get episode %s: %w", episodeID, err)
	}
	var res ledger.EpisodeResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return ledger.EpisodeResult{}, fmt.Errorf("decode episode %s: %w", episodeID, err)
	}
	return res, nil
}

// List returns the episodes of runID (all runs when empty) in insertion
// order, at most limit of the most recent when limit > 0.
func (s *Store) List(ctx context.Context, runID string, limit int) ([]ledger.EpisodeResult, error) {
	query := `SELECT result_json FROM (
	            SELECT rowid, result_json FROM episodes
	            WHERE (? = '' OR run_id = ?)
	            ORDER BY rowid DESC
	            LIMIT ?
	          ) ORDER BY rowid`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, runID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []ledger.EpisodeResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		var res ledger.EpisodeResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			return nil, fmt.Errorf("decode episode: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// #endregion read

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
