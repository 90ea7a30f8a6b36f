package orderfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period before a change is inspected.
const DefaultDebounce = 500 * time.Millisecond

// TamperFunc is called when the order file changes to content that the
// session did not write.
type TamperFunc func(path string)

// Watcher reports foreign rewrites of an order file, such as a mod
// manager deploying while a session runs.
type Watcher struct {
	file     *File
	onTamper TamperFunc
	debounce time.Duration
	logger   zerolog.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewWatcher creates a watcher for file. It does nothing until Start.
func NewWatcher(file *File, onTamper TamperFunc, logger zerolog.Logger) *Watcher {
	return &Watcher{
		file:     file,
		onTamper: onTamper,
		debounce: DefaultDebounce,
		logger:   logger.With().Str("component", "order-watcher").Logger(),
	}
}

// SetDebounce overrides the quiet period. It must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start watches the order file's directory until ctx is done or Close is
// called. Renames over the file are seen because the directory is watched.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(w.file.Dir()); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.file.Dir(), err)
	}
	w.watcher = fw

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.processEvents(ctx)

	w.logger.Debug().Str("path", w.file.Path()).Msg("Started watching order file")
	return nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	w.wg.Wait()
	return nil
}

// processEvents debounces changes to the order file and inspects the
// content once the file has been quiet.
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	defer func() { _ = w.watcher.Close() }()

	target := filepath.Clean(w.file.Path())
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Order file changed")
			timer.Reset(w.debounce)

		case <-timer.C:
			w.inspect()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) inspect() {
	data, err := os.ReadFile(w.file.Path())
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.file.Path()).Msg("Order file unreadable after change")
		return
	}
	if w.file.IsOwnContent(data) {
		return
	}
	w.logger.Warn().Str("path", w.file.Path()).Msg("Order file was rewritten by another program")
	if w.onTamper != nil {
		w.onTamper(w.file.Path())
	}
}
