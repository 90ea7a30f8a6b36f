package orderfile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/plugsift/plugsift/pkg/plugin"
)

// Snapshot is the parsed content of an order file.
type Snapshot struct {
	// Lines holds every line without its terminator.
	Lines []string
}

// Parse splits data into lines. CRLF terminators are accepted.
func Parse(data []byte) *Snapshot {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return &Snapshot{}
	}
	return &Snapshot{Lines: strings.Split(text, "\n")}
}

// IsComment reports whether line is a comment.
func IsComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// Entries returns the enabled plugins in file order, duplicates included.
func (s *Snapshot) Entries() []plugin.ID {
	var ids []plugin.ID
	for _, line := range s.Lines {
		if strings.TrimSpace(line) == "" || IsComment(line) {
			continue
		}
		ids = append(ids, plugin.New(line))
	}
	return ids
}

// Header returns the comment and blank lines in file order. They are
// written ahead of every trial order.
func (s *Snapshot) Header() []string {
	var header []string
	for _, line := range s.Lines {
		if strings.TrimSpace(line) == "" {
			header = append(header, "")
			continue
		}
		if IsComment(line) {
			header = append(header, line)
		}
	}
	return header
}

// Contains reports whether id is an enabled entry.
func (s *Snapshot) Contains(id plugin.ID) bool {
	return plugin.NewSet(s.Entries()...).Contains(id)
}

// Bytes renders the snapshot with '\n' terminators.
func (s *Snapshot) Bytes() []byte {
	return render(s.Lines)
}

func render(lines []string) []byte {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// File is the order file of one session. WriteOrder is safe for
// concurrent use with IsOwnContent.
type File struct {
	path string

	mu         sync.Mutex
	header     []string
	lastDigest [sha256.Size]byte
	written    bool
}

// Open reads the order file at path. The comment header of the file
// becomes the header written ahead of every trial order.
func Open(path string) (*File, *Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read order file: %w", err)
	}
	snap := Parse(data)
	return &File{path: path, header: snap.Header()}, snap, nil
}

// Path returns the order file path.
func (f *File) Path() string { return f.path }

// Dir returns the directory holding the order file, which is also the
// plugin data directory.
func (f *File) Dir() string { return filepath.Dir(f.path) }

// SetHeader replaces the lines written ahead of every trial order.
func (f *File) SetHeader(lines []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.header = append([]string(nil), lines...)
}

// Read parses the current content of the order file.
func (f *File) Read() (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read order file: %w", err)
	}
	return Parse(data), nil
}

// WriteOrder writes the header followed by ids.
func (f *File) WriteOrder(ctx context.Context, ids []plugin.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	lines := make([]string, 0, len(f.header)+len(ids))
	lines = append(lines, f.header...)
	f.mu.Unlock()
	return f.WriteLines(append(lines, plugin.Strings(ids)...))
}

// WriteExact writes ids with no header.
func (f *File) WriteExact(ids []plugin.ID) error {
	return f.WriteLines(plugin.Strings(ids))
}

// WriteLines replaces the order file with lines.
func (f *File) WriteLines(lines []string) error {
	return f.writeBytes(render(lines))
}

// Restore replaces the order file with snap.
func (f *File) Restore(snap *Snapshot) error {
	return f.writeBytes(snap.Bytes())
}

func (f *File) writeBytes(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := WriteAtomic(f.path, data); err != nil {
		return err
	}
	f.lastDigest = sha256.Sum256(data)
	f.written = true
	return nil
}

// IsOwnContent reports whether data is exactly what this File last wrote.
func (f *File) IsOwnContent(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written && sha256.Sum256(data) == f.lastDigest
}

// WriteAtomic writes data to a temp file next to path and renames it over
// path.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	perm := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set temp file mode: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
