package orderfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackups_CreateAndLatest(t *testing.T) {
	src := writeSample(t)
	b := NewBackups(filepath.Join(t.TempDir(), "backups"))

	_, err := b.Latest()
	assert.ErrorIs(t, err, ErrNoBackup)

	older := time.Date(2025, 4, 1, 9, 0, 0, 0, time.Local)
	newer := older.Add(26 * time.Hour)

	_, err = b.Create(src, older)
	require.NoError(t, err)
	created, err := b.Create(src, newer)
	require.NoError(t, err)
	assert.Equal(t, "session_2025-04-02_11-00-00", created.Session)

	// A newer session without a snapshot is ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(b.Root(), "session_2030-01-01_00-00-00"), 0o755))

	latest, err := b.Latest()
	require.NoError(t, err)
	assert.Equal(t, created.Path, latest.Path)

	snap, err := latest.Load()
	require.NoError(t, err)
	assert.Len(t, snap.Entries(), 3)
}

func TestParseSessionDirName(t *testing.T) {
	ts, ok := ParseSessionDirName("session_2025-04-02_11-00-00")
	require.True(t, ok)
	assert.Equal(t, 11, ts.Hour())

	_, ok = ParseSessionDirName("session_garbage")
	assert.False(t, ok)
	_, ok = ParseSessionDirName("other")
	assert.False(t, ok)
}
