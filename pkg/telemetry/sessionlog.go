package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionLogLayout is the timestamp layout of session log lines.
const SessionLogLayout = "2006-01-02 15:04:05"

// DefaultSessionLogQueue bounds the number of pending lines.
const DefaultSessionLogQueue = 256

// SessionLog writes the human-readable session log from a single background
// goroutine. Lines are formatted as "[YYYY-MM-DD HH:MM:SS] text". Writers
// block while the queue is full. Close drains the queue before returning.
type SessionLog struct {
	lines  chan string
	done   chan struct{}
	now    func() time.Time
	out    *bufio.Writer
	closer io.Closer

	mu     sync.RWMutex
	closed bool

	// err is owned by the writer goroutine until done is closed.
	err error

	closeOnce sync.Once
	closeErr  error
}

// SessionLogOption configures a SessionLog.
type SessionLogOption func(*SessionLog)

// WithSessionLogClock sets the timestamp source.
func WithSessionLogClock(now func() time.Time) SessionLogOption {
	return func(s *SessionLog) { s.now = now }
}

// WithSessionLogQueue sets the queue capacity.
func WithSessionLogQueue(n int) SessionLogOption {
	return func(s *SessionLog) {
		if n > 0 {
			s.lines = make(chan string, n)
		}
	}
}

// OpenSessionLog appends to the log file at path, creating its directory.
func OpenSessionLog(path string, opts ...SessionLogOption) (*SessionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	s := NewSessionLog(f, opts...)
	s.closer = f
	return s, nil
}

// NewSessionLog starts a session log writing to w.
func NewSessionLog(w io.Writer, opts ...SessionLogOption) *SessionLog {
	s := &SessionLog{
		lines: make(chan string, DefaultSessionLogQueue),
		done:  make(chan struct{}),
		now:   time.Now,
		out:   bufio.NewWriter(w),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

func (s *SessionLog) run() {
	defer close(s.done)
	for line := range s.lines {
		if s.err != nil {
			continue
		}
		if _, err := s.out.WriteString(line); err != nil {
			s.err = err
			continue
		}
		if len(s.lines) == 0 {
			s.err = s.out.Flush()
		}
	}
	if s.err == nil {
		s.err = s.out.Flush()
	}
}

// Log queues text with the current timestamp. It is a no-op after Close.
func (s *SessionLog) Log(text string) {
	line := "[" + s.now().Format(SessionLogLayout) + "] " + text + "\n"

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.lines <- line
}

// Logf formats and queues a line.
func (s *SessionLog) Logf(format string, args ...interface{}) {
	s.Log(fmt.Sprintf(format, args...))
}

// Close stops accepting lines, waits until every queued line is written
// and closes the underlying file. It is safe to call more than once.
func (s *SessionLog) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.lines)
		s.mu.Unlock()

		<-s.done
		s.closeErr = s.err
		if s.closer != nil {
			if err := s.closer.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
