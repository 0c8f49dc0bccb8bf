package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFile_AppendsUntilFull(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "gateway.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o600))

	rf, err := NewRotatingFile(path, WithMaxSize(1000))
	require.NoError(t, err)
	defer rf.Close()

	n, err := rf.Write([]byte("new\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\nnew\n", string(content))
	assert.NoFileExists(t, path+".1")
}

func TestRotatingFile_KeepsMaxBackups(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.log")
	rf, err := NewRotatingFile(path, WithMaxSize(20), WithMaxBackups(2))
	require.NoError(t, err)
	defer rf.Close()

	for _, c := range []byte("abcd") {
		_, err := rf.Write(bytes.Repeat([]byte{c}, 15))
		require.NoError(t, err)
	}

	for file, want := range map[string]byte{path: 'd', path + ".1": 'c', path + ".2": 'b'} {
		content, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{want}, 15), content, file)
	}
	assert.NoFileExists(t, path+".3")
}

func TestRotatingFile_WriteAfterClose(t *testing.T) {
	t.Parallel()

	rf, err := NewRotatingFile(filepath.Join(t.TempDir(), "gateway.log"))
	require.NoError(t, err)
	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close())

	_, err = rf.Write([]byte("late"))
	require.ErrorIs(t, err, os.ErrClosed)
}
