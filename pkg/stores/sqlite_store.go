package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store in one step. The
// directory of a file store is created when missing.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	if s.cfg.Path == MemoryPath {
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateSession creates a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, order_file, status, turbo, candidates, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.OrderFile,
		session.Status,
		session.Turbo,
		session.Candidates,
		session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// FinishSession writes the final counters of a session.
func (s *SQLiteStore) FinishSession(ctx context.Context, id string, summary Summary) error {
	query := `
		UPDATE sessions
		SET status = ?, candidates = ?, safe = ?, failed = ?, reverified = ?, incomplete = ?,
		    trials = ?, mega_attempts = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	var errMsg *string
	if summary.Error != nil {
		msg := summary.Error.Error()
		errMsg = &msg
	}

	result, err := s.db.ExecContext(ctx, query,
		summary.Status,
		summary.Candidates,
		summary.Safe,
		summary.Failed,
		summary.Reverified,
		summary.Incomplete,
		summary.Trials,
		summary.MegaAttempts,
		errMsg,
		summary.FinishedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return nil
}

const sessionColumns = `
	id, order_file, status, turbo, candidates, safe, failed, reverified, incomplete,
	trials, mega_attempts, error, started_at, finished_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	session := &Session{}
	err := row.Scan(
		&session.ID,
		&session.OrderFile,
		&session.Status,
		&session.Turbo,
		&session.Candidates,
		&session.Safe,
		&session.Failed,
		&session.Reverified,
		&session.Incomplete,
		&session.Trials,
		&session.MegaAttempts,
		&session.Error,
		&session.StartedAt,
		&session.FinishedAt,
	)
	return session, err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// ListSessions lists sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// RecordTrial appends a trial record.
func (s *SQLiteStore) RecordTrial(ctx context.Context, trial *Trial) error {
	query := `
		INSERT INTO trials (id, session_id, seq, kind, batch, order_size, attempt, outcome, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	batch, err := json.Marshal(trial.Batch)
	if err != nil {
		return fmt.Errorf("failed to encode trial batch: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query,
		trial.ID,
		trial.SessionID,
		trial.Seq,
		trial.Kind,
		string(batch),
		trial.OrderSize,
		trial.Attempt,
		trial.Outcome,
		trial.Error,
		trial.StartedAt,
		trial.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record trial: %w", err)
	}

	return nil
}

// ListTrials lists the trials of a session in execution order.
func (s *SQLiteStore) ListTrials(ctx context.Context, sessionID string) ([]*Trial, error) {
	query := `
		SELECT id, session_id, seq, kind, batch, order_size, attempt, outcome, error, started_at, duration_ms
		FROM trials
		WHERE session_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trials: %w", err)
	}
	defer rows.Close()

	trials := []*Trial{}
	for rows.Next() {
		var (
			trial      = &Trial{}
			batch      string
			durationMS int64
		)
		err := rows.Scan(
			&trial.ID,
			&trial.SessionID,
			&trial.Seq,
			&trial.Kind,
			&batch,
			&trial.OrderSize,
			&trial.Attempt,
			&trial.Outcome,
			&trial.Error,
			&trial.StartedAt,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		if err := json.Unmarshal([]byte(batch), &trial.Batch); err != nil {
			return nil, fmt.Errorf("failed to decode trial batch: %w", err)
		}
		trial.Duration = time.Duration(durationMS) * time.Millisecond
		trials = append(trials, trial)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trials: %w", err)
	}

	return trials, nil
}

// RecordVerdict appends a verdict.
func (s *SQLiteStore) RecordVerdict(ctx context.Context, verdict *Verdict) error {
	query := `
		INSERT INTO verdicts (session_id, plugin, kind, trial_id, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		verdict.SessionID,
		verdict.Plugin,
		verdict.Kind,
		verdict.TrialID,
		verdict.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record verdict: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get verdict ID: %w", err)
	}

	verdict.ID = id
	return nil
}

// ListVerdicts lists the verdicts of a session, optionally of one kind.
func (s *SQLiteStore) ListVerdicts(ctx context.Context, sessionID string, kind *string) ([]*Verdict, error) {
	query := `
		SELECT id, session_id, plugin, kind, trial_id, recorded_at
		FROM verdicts
		WHERE session_id = ?
		  AND (? IS NULL OR kind = ?)
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, kind, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	verdicts := []*Verdict{}
	for rows.Next() {
		verdict := &Verdict{}
		err := rows.Scan(
			&verdict.ID,
			&verdict.SessionID,
			&verdict.Plugin,
			&verdict.Kind,
			&verdict.TrialID,
			&verdict.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		verdicts = append(verdicts, verdict)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verdicts: %w", err)
	}

	return verdicts, nil
}

// AppendEvent appends an event to the journal.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (session_id, level, message, created_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.SessionID,
		event.Level,
		event.Message,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents retrieves events with optional filters, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, session_id, level, message, created_at
		FROM events
		WHERE (? IS NULL OR session_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, sessionID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.Level,
			&event.Message,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

var _ Store = (*SQLiteStore)(nil)
