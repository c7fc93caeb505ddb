// Package eventstore is the optional SQLite journal of pipeline runs. In
// ephemeral mode every call is a no-op and nothing touches disk.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-lyrics/internal/config"
	_ "modernc.org/sqlite"
)

const (
	ModeEphemeral  = "ephemeral"
	ModeSession    = "session"
	ModePersistent = "persistent"
)

// Run is the journal row for one pipeline run. Transcripts are not stored,
// only their length.
type Run struct {
	RunID            string
	Input            string
	Outcome          string
	State            string
	Stage            string
	Language         string
	LanguageDegraded bool
	Error            string
	TranscriptChars  int
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Event is one state transition of a run.
type Event struct {
	ID        int64
	RunID     string
	State     string
	CreatedAt time.Time
}

// Store wraps a SQLite-backed run journal.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config. Session mode starts
// from an empty journal on every open.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "" || cfg.RetentionMode == ModeEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == ModeSession {
		if _, err := db.ExecContext(ctx, `DELETE FROM runs`); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset session journal: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    input TEXT,
    outcome TEXT,
    state TEXT,
    stage TEXT,
    language TEXT,
    language_degraded INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    transcript_chars INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    state TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_created ON run_events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Enabled reports whether runs are written to disk.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Ping checks the database connection; ephemeral stores are always ready.
func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	return s.db.PingContext(ctx)
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun inserts the run row. It is idempotent per run id.
func (s *Store) StartRun(ctx context.Context, runID, input string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, input, state, started_at) VALUES(?, ?, 'START', ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		runID, input, s.clock().UTC().UnixNano())
	return err
}

// AppendEvent records a state transition.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.Enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events(run_id, state, created_at) VALUES(?, ?, ?)`,
		evt.RunID, evt.State, evt.CreatedAt.UTC().UnixNano())
	return err
}

// FinishRun stores the terminal outcome of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if !s.Enabled() {
		return nil
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.clock()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET outcome = ?, state = ?, stage = ?, language = ?, language_degraded = ?,
		 error = ?, transcript_chars = ?, finished_at = ? WHERE run_id = ?`,
		run.Outcome, run.State, run.Stage, run.Language, boolInt(run.LanguageDegraded),
		run.Error, run.TranscriptChars, run.FinishedAt.UTC().UnixNano(), run.RunID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not started", run.RunID)
	}
	return nil
}

// ErrNotFound is returned by GetRun for unknown run ids.
var ErrNotFound = errors.New("run not found")

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	if !s.Enabled() {
		return Run{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunEvents retrieves up to limit events for a run ordered ascending by time.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, state, created_at FROM run_events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.State, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC().UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const selectRun = `SELECT run_id, input, COALESCE(outcome, ''), COALESCE(state, ''), COALESCE(stage, ''),
	COALESCE(language, ''), language_degraded, COALESCE(error, ''), transcript_chars, started_at, COALESCE(finished_at, 0)
	FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                 Run
		degraded          int
		started, finished int64
	)
	if err := row.Scan(&r.RunID, &r.Input, &r.Outcome, &r.State, &r.Stage, &r.Language, &degraded,
		&r.Error, &r.TranscriptChars, &started, &finished); err != nil {
		return Run{}, err
	}
	r.LanguageDegraded = degraded != 0
	r.StartedAt = time.Unix(0, started).UTC()
	if finished != 0 {
		r.FinishedAt = time.Unix(0, finished).UTC()
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
