package orderfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/plugsift/plugsift/pkg/plugin"
)

// QuarantineReport lists what happened to each plugin file.
type QuarantineReport struct {
	// Dir is the quarantine session directory.
	Dir string

	// Moved holds plugins whose file was moved.
	Moved []string

	// Missing holds plugins with no file in the data directory.
	Missing []string

	// Errors maps plugins to the move error.
	Errors map[string]error
}

// Quarantine moves the files of ids from dataDir into a new session
// directory under root. Missing files are reported, not fatal.
func Quarantine(dataDir, root string, ids []plugin.ID, now time.Time) (*QuarantineReport, error) {
	dir := filepath.Join(root, SessionDirName(now))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	report := &QuarantineReport{Dir: dir, Errors: make(map[string]error)}
	for _, id := range ids {
		src := filepath.Join(dataDir, id.Name())
		if _, err := os.Stat(src); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				report.Missing = append(report.Missing, id.Name())
				continue
			}
			report.Errors[id.Name()] = err
			continue
		}
		if err := moveFile(src, filepath.Join(dir, id.Name())); err != nil {
			report.Errors[id.Name()] = err
			continue
		}
		report.Moved = append(report.Moved, id.Name())
	}
	return report, nil
}

// moveFile renames src to dst, copying when they are on different
// volumes.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	_ = in.Close()
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove %s: %w", src, err)
	}
	return nil
}

// QuarantineSession is a past quarantine directory.
type QuarantineSession struct {
	// Dir is the session directory.
	Dir string

	// Time is parsed from the directory name; zero when unparsable.
	Time time.Time

	// Plugins holds the .esp and .esm file names in the directory.
	Plugins []string
}

// LatestQuarantine returns the newest quarantine session under root, or
// nil when there is none.
func LatestQuarantine(root string) (*QuarantineSession, error) {
	dirs, err := sessionDirs(root)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, nil
	}

	qs := &QuarantineSession{Dir: filepath.Join(root, dirs[0])}
	if t, ok := ParseSessionDirName(dirs[0]); ok {
		qs.Time = t
	}
	entries, err := os.ReadDir(qs.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantine session: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && plugin.IsPluginFile(e.Name()) {
			qs.Plugins = append(qs.Plugins, e.Name())
		}
	}
	sort.Strings(qs.Plugins)
	return qs, nil
}
