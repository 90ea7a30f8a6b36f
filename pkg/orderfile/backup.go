package orderfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// SessionPrefix starts every backup and quarantine session directory.
	SessionPrefix = "session_"

	// SessionLayout formats the session directory timestamp.
	SessionLayout = "2006-01-02_15-04-05"

	// BackupFileName is the snapshot name inside a backup session.
	BackupFileName = "original_order.txt"
)

// ErrNoBackup is returned when no backup session holds a snapshot.
var ErrNoBackup = errors.New("no backup found")

// SessionDirName returns the directory name for a session started at t.
func SessionDirName(t time.Time) string {
	return SessionPrefix + t.Format(SessionLayout)
}

// ParseSessionDirName extracts the start time from a session directory
// name.
func ParseSessionDirName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, SessionPrefix) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(SessionLayout, strings.TrimPrefix(name, SessionPrefix), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// sessionDirs lists session directories under root, newest first.
func sessionDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), SessionPrefix) {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	return dirs, nil
}

// Backup is one saved snapshot of the order file.
type Backup struct {
	// Session is the session directory name.
	Session string

	// Path is the snapshot file.
	Path string
}

// Backups manages session backups under a root directory.
type Backups struct {
	root string
}

// NewBackups returns a backup manager rooted at root.
func NewBackups(root string) *Backups {
	return &Backups{root: root}
}

// Root returns the backup root directory.
func (b *Backups) Root() string { return b.root }

// Latest returns the newest session that holds a snapshot.
func (b *Backups) Latest() (*Backup, error) {
	dirs, err := sessionDirs(b.root)
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		p := filepath.Join(b.root, d, BackupFileName)
		if _, err := os.Stat(p); err == nil {
			return &Backup{Session: d, Path: p}, nil
		}
	}
	return nil, ErrNoBackup
}

// Create copies src into a new session directory named after now.
func (b *Backups) Create(src string, now time.Time) (*Backup, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read order file for backup: %w", err)
	}
	session := SessionDirName(now)
	p := filepath.Join(b.root, session, BackupFileName)
	if err := WriteAtomic(p, data); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	return &Backup{Session: session, Path: p}, nil
}

// Load reads the snapshot of a backup.
func (bk *Backup) Load() (*Snapshot, error) {
	data, err := os.ReadFile(bk.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %s: %w", bk.Session, err)
	}
	return Parse(data), nil
}
