package orderfile

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/plugsift/plugsift/pkg/plugin"
)

func TestWatcher_DetectsForeignWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := writeSample(t)
	f, _, err := Open(path)
	require.NoError(t, err)

	var tampered atomic.Int32
	w := NewWatcher(f, func(string) { tampered.Add(1) }, zerolog.Nop())
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	require.NoError(t, f.WriteOrder(context.Background(), plugin.Names("Own.esp")))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, tampered.Load(), "own writes are not tampering")

	require.NoError(t, os.WriteFile(path, []byte("Foreign.esp\n"), 0o644))
	assert.Eventually(t, func() bool { return tampered.Load() > 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
}

func TestWatcher_CloseWithoutStart(t *testing.T) {
	w := NewWatcher(&File{path: "x"}, nil, zerolog.Nop())
	assert.NoError(t, w.Close())
}
