package oracle

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// Launcher starts the target program.
type Launcher interface {
	Start(ctx context.Context, path string, args []string, dir string) (*Handle, error)
}

// Handle tracks a started target process.
type Handle struct {
	// PID is the operating system process id, or 0 when unknown.
	PID int

	done    chan struct{}
	mu      sync.RWMutex
	waitErr error
}

// NewHandle returns a handle for a process that is not reaped by this
// package. Done never closes.
func NewHandle(pid int) *Handle {
	return &Handle{PID: pid, done: make(chan struct{})}
}

// Done is closed once the launched process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the wait error once Done is closed.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waitErr
}

// ExecLauncher starts the target with os/exec. The child is not bound to
// ctx; its lifetime is managed through the process table.
type ExecLauncher struct{}

// Start implements Launcher.
func (ExecLauncher) Start(_ context.Context, path string, args []string, dir string) (*Handle, error) {
	cmd := exec.Command(path, args...)
	if dir == "" {
		dir = filepath.Dir(path)
	}
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	h := &Handle{PID: cmd.Process.Pid, done: make(chan struct{})}

	// Reap the child so an exited target does not linger as a zombie in
	// the process table.
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}
