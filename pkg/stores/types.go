package stores

import (
	"context"
	"time"
)

// SessionStatus is the final state of a session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAborted   SessionStatus = "aborted"
	SessionStatusFailed    SessionStatus = "failed"
)

// EventLevel represents the severity level of an event.
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Session is one isolation run.
type Session struct {
	ID           string        `json:"id"`
	OrderFile    string        `json:"order_file"`
	Status       SessionStatus `json:"status"`
	Turbo        bool          `json:"turbo"`
	Candidates   int           `json:"candidates"`
	Safe         int           `json:"safe"`
	Failed       int           `json:"failed"`
	Reverified   int           `json:"reverified"`
	Incomplete   int           `json:"incomplete"`
	Trials       int           `json:"trials"`
	MegaAttempts int           `json:"mega_attempts"`
	Error        *string       `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// Summary holds the counters written when a session finishes.
type Summary struct {
	Status       SessionStatus
	Candidates   int
	Safe         int
	Failed       int
	Reverified   int
	Incomplete   int
	Trials       int
	MegaAttempts int
	Error        error
	FinishedAt   time.Time
}

// Trial is one launch-wait-terminate cycle.
type Trial struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	Kind      string        `json:"kind"`
	Batch     []string      `json:"batch"`
	OrderSize int           `json:"order_size"`
	Attempt   int           `json:"attempt"`
	Outcome   string        `json:"outcome"`
	Error     *string       `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Verdict is a classification of one plugin.
type Verdict struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Plugin     string    `json:"plugin"`
	Kind       string    `json:"kind"`
	TrialID    *string   `json:"trial_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Event is an append-only journal line.
type Event struct {
	ID        int64      `json:"id"`
	SessionID *string    `json:"session_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store defines the interface for the session journal.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	FinishSession(ctx context.Context, id string, summary Summary) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)

	// Trial operations
	RecordTrial(ctx context.Context, trial *Trial) error
	ListTrials(ctx context.Context, sessionID string) ([]*Trial, error)

	// Verdict operations
	RecordVerdict(ctx context.Context, verdict *Verdict) error
	ListVerdicts(ctx context.Context, sessionID string, kind *string) ([]*Verdict, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, sessionID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
