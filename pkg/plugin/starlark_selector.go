package plugin

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// classifyFunc is the global a selector script must define.
const classifyFunc = "classify"

// StarlarkSelector classifies entries by calling classify(name) from a
// user script. The function returns "test", "patch", "skip" or None. None
// defers to the fallback selector.
type StarlarkSelector struct {
	fn       starlark.Callable
	fallback Selector
	timeout  time.Duration
}

// NewStarlarkSelector compiles script and looks up classify. The script
// sees the predeclared values is_plugin(name), is_patch(name) and
// keywords.
func NewStarlarkSelector(script string, fallback *DefaultSelector, timeout time.Duration) (*StarlarkSelector, error) {
	if fallback == nil {
		fallback = NewDefaultSelector(nil)
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	keywords := make([]starlark.Value, 0, len(fallback.PatchKeywords))
	for _, k := range fallback.PatchKeywords {
		keywords = append(keywords, starlark.String(k))
	}
	kwList := starlark.NewList(keywords)
	kwList.Freeze()

	predeclared := starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"keywords": kwList,
		"is_plugin": starlark.NewBuiltin("is_plugin", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			return starlark.Bool(IsPluginFile(name)), nil
		}),
		"is_patch": starlark.NewBuiltin("is_patch", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			return starlark.Bool(fallback.IsPatch(name)), nil
		}),
	}

	thread := newSelectorThread()
	globals, err := starlark.ExecFile(thread, "selector.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to load selector script: %w", err)
	}

	val, ok := globals[classifyFunc]
	if !ok {
		return nil, fmt.Errorf("selector script does not define %s(name)", classifyFunc)
	}
	fn, ok := val.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("selector %s is a %s, not a function", classifyFunc, val.Type())
	}

	return &StarlarkSelector{fn: fn, fallback: fallback, timeout: timeout}, nil
}

func newSelectorThread() *starlark.Thread {
	return &starlark.Thread{
		Name:  "plugsift-selector",
		Print: func(_ *starlark.Thread, _ string) {},
	}
}

// Classify implements Selector.
func (s *StarlarkSelector) Classify(ctx context.Context, name string) (Group, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := newSelectorThread()
	resultCh := make(chan starlark.Value, 1)
	errCh := make(chan error, 1)

	go func() {
		v, err := starlark.Call(thread, s.fn, starlark.Tuple{starlark.String(name)}, nil)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- v
	}()

	select {
	case <-callCtx.Done():
		thread.Cancel("selector timeout")
		return "", fmt.Errorf("selector timed out after %v", s.timeout)
	case err := <-errCh:
		return "", fmt.Errorf("selector failed: %w", err)
	case v := <-resultCh:
		if v == starlark.None {
			return s.fallback.Classify(ctx, name)
		}
		str, ok := starlark.AsString(v)
		if !ok {
			return "", fmt.Errorf("selector returned %s, want string", v.Type())
		}
		group := Group(str)
		if err := group.Validate(); err != nil {
			return "", err
		}
		return group, nil
	}
}
