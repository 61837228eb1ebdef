package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLoggerWritesToItsOwnFile(t *testing.T) {
	parent := New("debug")
	dir := t.TempDir()

	entry, closeFn, err := JobLogger(parent, dir, "abc123")
	require.NoError(t, err)
	entry.Info("hello")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(filepath.Join(dir, "abc123.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "abc123")
}

func TestTaskFields(t *testing.T) {
	f := TaskFields("/a/b.txt", 3)
	assert.Equal(t, "/a/b.txt", f["taskPath"])
	assert.Equal(t, 3, f["chunk"])
}

func TestNewDefaultsToInfoOnUnknownLevel(t *testing.T) {
	l := New("not-a-level")
	assert.Equal(t, "info", l.GetLevel().String())
}

func TestDirIsBaseSlashLogs(t *testing.T) {
	assert.Equal(t, filepath.Join("/cfg", "logs"), Dir("/cfg"))
}
