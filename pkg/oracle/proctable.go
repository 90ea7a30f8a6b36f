package oracle

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
)

// SystemProcessTable uses the platform process tools: tasklist and
// taskkill on Windows, pgrep, kill and pkill elsewhere. Outside Windows
// processes match on their exact kernel name, never on command lines.
type SystemProcessTable struct {
	goos string
}

// NewSystemProcessTable returns a table for the running platform.
func NewSystemProcessTable() *SystemProcessTable {
	return &SystemProcessTable{goos: runtime.GOOS}
}

func (t *SystemProcessTable) windows() bool { return t.goos == "windows" }

// Lookup implements ProcessTable.
func (t *SystemProcessTable) Lookup(ctx context.Context, image string) (string, bool, error) {
	if t.windows() {
		out, err := exec.CommandContext(ctx, "tasklist", "/FI", "IMAGENAME eq "+image, "/FO", "CSV", "/NH").Output()
		if err != nil {
			return "", false, fmt.Errorf("failed to run tasklist: %w", err)
		}
		pid, found := parseTasklist(out, image)
		return pid, found, nil
	}

	out, err := exec.CommandContext(ctx, "pgrep", "-l", "-x", commPattern(image)).Output()
	if err != nil {
		// pgrep exits 1 when nothing matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to run pgrep: %w", err)
	}
	pid, found := parsePgrep(out, image)
	return pid, found, nil
}

// Kill implements ProcessTable.
func (t *SystemProcessTable) Kill(ctx context.Context, pid string) error {
	var cmd *exec.Cmd
	if t.windows() {
		cmd = exec.CommandContext(ctx, "taskkill", "/PID", pid, "/F")
	} else {
		cmd = exec.CommandContext(ctx, "kill", "-9", pid)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to kill pid %s: %w", pid, err)
	}
	return nil
}

// KillByName implements ProcessTable. A missing process is not an error.
func (t *SystemProcessTable) KillByName(ctx context.Context, image string) error {
	var cmd *exec.Cmd
	if t.windows() {
		cmd = exec.CommandContext(ctx, "taskkill", "/IM", image, "/F")
	} else {
		cmd = exec.CommandContext(ctx, "pkill", "-x", commPattern(image))
	}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("failed to kill %s: %w", image, err)
	}
	return nil
}

// parseTasklist extracts the first pid for image from tasklist CSV output.
func parseTasklist(out []byte, image string) (string, bool) {
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return "", false
	}
	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rec[0]), image) {
			return strings.TrimSpace(rec[1]), true
		}
	}
	return "", false
}

// commLen is the kernel's limit on a process name, excluding the NUL.
const commLen = 15

// commName is the process name the kernel records for image.
func commName(image string) string {
	if len(image) > commLen {
		return image[:commLen]
	}
	return image
}

// commPattern quotes the kernel name for pgrep and pkill, which match it whole under -x.
func commPattern(image string) string {
	return regexp.QuoteMeta(commName(image))
}

// parsePgrep returns the first pid in pgrep -l output whose process name
// is exactly image.
func parsePgrep(out []byte, image string) (string, bool) {
	want := commName(image)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[1] == want {
			return fields[0], true
		}
	}
	return "", false
}
