package orderfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugsift/plugsift/pkg/plugin"
)

const sampleOrder = "## This file was automatically generated by Vortex. Do not edit this file.\r\n" +
	"Oblivion.esm\r\n" +
	"\r\n" +
	"#Disabled.esp\r\n" +
	"Knights.esp\r\n" +
	"knights.esp\r\n"

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugins.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleOrder), 0o644))
	return path
}

func TestParse(t *testing.T) {
	snap := Parse([]byte(sampleOrder))

	require.Len(t, snap.Lines, 6)
	assert.Equal(t, []string{"Oblivion.esm", "Knights.esp", "knights.esp"}, plugin.Strings(snap.Entries()))
	assert.Equal(t, []string{
		"## This file was automatically generated by Vortex. Do not edit this file.",
		"",
		"#Disabled.esp",
	}, snap.Header())
	assert.True(t, snap.Contains(plugin.New("KNIGHTS.ESP")))
	assert.False(t, snap.Contains(plugin.New("Disabled.esp")))

	assert.Empty(t, Parse(nil).Lines)
}

func TestFile_WriteOrder(t *testing.T) {
	path := writeSample(t)
	f, _, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, f.WriteOrder(context.Background(), plugin.Names("Oblivion.esm", "Cobl.esm")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "## This file was automatically generated by Vortex. Do not edit this file.\n"+
		"\n"+
		"#Disabled.esp\n"+
		"Oblivion.esm\n"+
		"Cobl.esm\n", string(data))
	assert.True(t, f.IsOwnContent(data))
	assert.False(t, f.IsOwnContent([]byte("Other.esp\n")))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFile_WriteExact(t *testing.T) {
	path := writeSample(t)
	f, _, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, f.WriteExact(plugin.Names("A.esm", "B.esp")))
	snap, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"A.esm", "B.esp"}, snap.Lines)
}

func TestFile_WriteOrderCancelled(t *testing.T) {
	path := writeSample(t)
	f, _, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, f.WriteOrder(ctx, plugin.Names("A.esm")))
}

func TestFile_Restore(t *testing.T) {
	path := writeSample(t)
	f, snap, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, f.WriteExact(plugin.Names("X.esp")))
	require.NoError(t, f.Restore(snap))

	got, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, snap.Lines, got.Lines)
}

func TestOpen_Missing(t *testing.T) {
	_, _, err := Open(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteAtomic_KeepsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o640))

	require.NoError(t, WriteAtomic(path, []byte("b\n")))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())
}
